// Command seed provisions a local database with an admin account and a demo
// student roster so the API can be exercised end to end without a real
// identity import.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/attendly/attendly-api/internal/models"
	"github.com/attendly/attendly-api/pkg/config"
	"github.com/attendly/attendly-api/pkg/database"
)

type seedUser struct {
	Email    string
	FullName string
	Password string
	Role     models.UserRole
}

func main() {
	var (
		adminEmail    string
		adminPassword string
		students      int
	)

	flag.StringVar(&adminEmail, "admin-email", "admin@attendly.local", "admin account email")
	flag.StringVar(&adminPassword, "admin-password", "change-me", "admin account password")
	flag.IntVar(&students, "students", 5, "number of demo student accounts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	users := []seedUser{{
		Email:    adminEmail,
		FullName: "Attendly Admin",
		Password: adminPassword,
		Role:     models.RoleAdmin,
	}}
	for i := 1; i <= students; i++ {
		users = append(users, seedUser{
			Email:    fmt.Sprintf("student%d@attendly.local", i),
			FullName: fmt.Sprintf("Demo Student %d", i),
			Password: fmt.Sprintf("student%d", i),
			Role:     models.RoleStudent,
		})
	}

	created := 0
	for _, u := range users {
		inserted, err := upsertUser(db, u)
		if err != nil {
			log.Fatalf("failed to seed %s: %v", u.Email, err)
		}
		if inserted {
			created++
			log.Printf("created %s (%s)", u.Email, u.Role)
		}
	}
	log.Printf("seed complete: %d new account(s), %d already present", created, len(users)-created)
}

// upsertUser inserts the account unless the email is already taken. Existing
// accounts are left untouched so re-running the seed never rotates passwords.
func upsertUser(db *sqlx.DB, u seedUser) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	res, err := db.Exec(`
		INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), u.Email, string(hash), u.FullName, u.Role, now,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
