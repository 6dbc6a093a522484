package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "notaryctl",
	Short: "Notary administration CLI",
	Long:  "A CLI for signing in to the notary administration server and managing the session.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, yaml, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(extendCmd())
	rootCmd.AddCommand(passwdCmd())
	rootCmd.AddCommand(resetPasswordCmd())
	rootCmd.AddCommand(getCmd())
}

var stdin = bufio.NewScanner(os.Stdin)

// prompt reads one line from stdin.
func prompt(label string) string {
	fmt.Print(label)
	stdin.Scan()
	return strings.TrimSpace(stdin.Text())
}

// --- session ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and keep the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var username string
			if len(args) > 0 {
				username = args[0]
			} else {
				username = prompt("Username: ")
			}
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = prompt("Password: ")
			}
			remember, _ := cmd.Flags().GetBool("remember")

			client := newClient()
			if err := client.refreshCSRF(); err != nil {
				printError(err.Error())
				return nil
			}
			result, err := client.post("/login", map[string]any{
				"username":    username,
				"password":    password,
				"remember_me": remember,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if err := client.keepCSRF(result); err != nil {
				printError(fmt.Sprintf("saving session: %v", err))
			}
			delete(result, "csrf_token")
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("password", "", "Password (prompted when empty)")
	cmd.Flags().Bool("remember", false, "Keep a remember-me cookie")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			_, err := client.post("/logout", nil)
			clearSession()
			if serr := saveConfig(); serr != nil {
				printError(serr.Error())
			}
			if err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/api/session/status")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func extendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extend",
		Short: "Reset the session idle timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/api/session/extend", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- passwords ---

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		RunE: func(cmd *cobra.Command, args []string) error {
			current := prompt("Current password: ")
			next := prompt("New password: ")
			confirm := prompt("Repeat new password: ")

			client := newClient()
			result, err := client.post("/api/password/change", map[string]any{
				"current_password": current,
				"new_password":     next,
				"confirm_password": confirm,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Request a new password by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.refreshCSRF(); err != nil {
				printError(err.Error())
				return nil
			}
			result, err := client.post("/password/reset", map[string]any{"email": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- resources ---

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <users|contracts|transactions|districts> <id>",
		Short: "Look up a record you have access to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/api/" + args[0] + "/" + args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}
