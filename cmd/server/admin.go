package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/service"
)

var adminFlags struct {
	username string
	email    string
	password string
}

// createAdminCmd bootstraps the first administrator; the HTTP API only lets
// existing admins create privileged accounts.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := adminFlags.password
		if password == "" {
			password = os.Getenv("ADMIN_PASSWORD")
		}
		if password == "" {
			return errors.New("password required: pass --password or set ADMIN_PASSWORD")
		}

		c, err := newCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		u, err := c.users.Create(cmd.Context(), service.NewUser{
			Username: adminFlags.username,
			Email:    adminFlags.email,
			Password: password,
			Role:     model.RoleAdmin,
		})
		if err != nil {
			return err
		}
		cmd.Printf("created admin %q (id %d)\n", u.Username, u.ID)
		return nil
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminFlags.username, "username", "admin", "admin username")
	f.StringVar(&adminFlags.email, "email", "", "admin email")
	f.StringVar(&adminFlags.password, "password", "", "admin password (defaults to $ADMIN_PASSWORD)")
	_ = createAdminCmd.MarkFlagRequired("email")
}
