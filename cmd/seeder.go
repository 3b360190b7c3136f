package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample students for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, _, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		if clearData {
			if err := db.Exec("DELETE FROM gateway_events").Error; err != nil {
				log.Fatalf("failed to clear gateway events: %v", err)
			}
			if err := db.Exec("DELETE FROM fee_transactions").Error; err != nil {
				log.Fatalf("failed to clear fee transactions: %v", err)
			}
			if err := db.Exec("DELETE FROM students").Error; err != nil {
				log.Fatalf("failed to clear students: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

		students := []struct {
			FirstName string
			LastName  string
			Email     string
		}{
			{"Aarav", "Sharma", "aarav.sharma@school.example"},
			{"Priya", "Patel", "priya.patel@school.example"},
			{"Rohan", "Gupta", "rohan.gupta@school.example"},
		}

		for _, s := range students {
			var exists int
			row := db.Raw("SELECT 1 FROM students WHERE email = ?", s.Email).Row()
			if err := row.Scan(&exists); err == nil {
				fmt.Println("student already exists:", s.Email)
				continue
			}

			if err := db.Exec(
				"INSERT INTO students (first_name, last_name, email, password_hash, fee_status, created_at, updated_at) VALUES (?, ?, ?, ?, 'unpaid', now(), now())",
				s.FirstName, s.LastName, s.Email, string(hash),
			).Error; err != nil {
				log.Fatalf("failed to insert student %s: %v", s.Email, err)
			}
			fmt.Println("Seeded student:", s.Email)
		}
	},
}
