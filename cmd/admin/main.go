package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

func main() {
	app := cli.App{
		Name: "admin",
		Commands: cli.Commands{
			runCreateMasterKey,
			runCreateSessionKey,
			runHashAdminPassword,
			runAssignRole,
			runListPrincipals,
		},
		ErrWriter: os.Stdout,
	}

	app.Run(os.Args)
}

var runCreateMasterKey = &cli.Command{
	Name:  "create-master-key",
	Usage: "creates the key-wrapping master secret",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "out",
			Required: true,
			Usage:    "output file for the master secret",
		},
	},
	Action: func(cmd *cli.Context) error {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}

		if err := os.WriteFile(cmd.String("out"), secret, 0600); err != nil {
			return err
		}

		return nil
	},
}

var runCreateSessionKey = &cli.Command{
	Name:  "create-session-key",
	Usage: "creates the session token signing key shared with the auth service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "out",
			Required: true,
			Usage:    "output file for the session key (PEM)",
		},
	},
	Action: func(cmd *cli.Context) error {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}

		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return err
		}

		b := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

		return os.WriteFile(cmd.String("out"), b, 0600)
	},
}

var runHashAdminPassword = &cli.Command{
	Name:  "hash-admin-password",
	Usage: "prints the bcrypt hash of an admin password",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "password",
			Required: true,
		},
	},
	Action: func(cmd *cli.Context) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(cmd.String("password")), 10)
		if err != nil {
			return err
		}

		fmt.Println(string(hash))
		return nil
	},
}

var runAssignRole = &cli.Command{
	Name:  "assign-role",
	Usage: "creates or updates a principal with the given role",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "db-name",
			Value:   "vellum.db",
			EnvVars: []string{"VELLUM_DB_NAME"},
		},
		&cli.StringFlag{
			Name:     "address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "role",
			Required: true,
			Usage:    "admin, issuer, verifier, or student",
		},
	},
	Action: func(cmd *cli.Context) error {
		addr, ok := helpers.CanonicalAddress(strings.TrimSpace(cmd.String("address")))
		if !ok {
			return fmt.Errorf("malformed address %q", cmd.String("address"))
		}

		role, ok := models.ParseRole(cmd.String("role"))
		if !ok {
			return fmt.Errorf("unknown role %q", cmd.String("role"))
		}

		db, err := gorm.Open(sqlite.Open(cmd.String("db-name")), &gorm.Config{})
		if err != nil {
			return err
		}

		if err := db.AutoMigrate(&models.Principal{}); err != nil {
			return err
		}

		var p models.Principal
		err = db.First(&p, "address = ?", addr).Error
		if err == gorm.ErrRecordNotFound {
			p = models.Principal{
				Address:   addr,
				Role:      role,
				Nonce:     helpers.RandomHex(16),
				IsActive:  true,
				CreatedAt: time.Now().UTC(),
			}
			if err := db.Create(&p).Error; err != nil {
				return err
			}
			fmt.Printf("created %s as %s\n", addr, role)
			return nil
		} else if err != nil {
			return err
		}

		if err := db.Model(&models.Principal{}).Where("address = ?", addr).
			Update("role", role).Error; err != nil {
			return err
		}

		fmt.Printf("updated %s to %s\n", addr, role)
		return nil
	},
}

var runListPrincipals = &cli.Command{
	Name:  "list-principals",
	Usage: "prints every known principal",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "db-name",
			Value:   "vellum.db",
			EnvVars: []string{"VELLUM_DB_NAME"},
		},
	},
	Action: func(cmd *cli.Context) error {
		db, err := gorm.Open(sqlite.Open(cmd.String("db-name")), &gorm.Config{})
		if err != nil {
			return err
		}

		var principals []models.Principal
		if err := db.Order("created_at").Find(&principals).Error; err != nil {
			return err
		}

		for _, p := range principals {
			fmt.Printf("%s\t%s\tactive=%v\n", p.Address, p.Role, p.IsActive)
		}

		return nil
	},
}
