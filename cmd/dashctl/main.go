package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/org/dashboard/internal/auth"
	"github.com/org/dashboard/internal/policy"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dashctl",
	Short: "Dashboard admin CLI",
	Long:  "A CLI for administering dashboard users, security alerts and the audit log.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(configPath())
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(loginCmd(), logoutCmd(), whoamiCmd(), healthCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(securityCmd())
	rootCmd.AddCommand(passwordCmd())
	rootCmd.AddCommand(configCmd())
}

func prompt(label string) string {
	fmt.Fprint(os.Stderr, label)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// parseRole accepts a role id or a role name such as "admin" or "super admin".
func parseRole(s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		if _, ok := policy.LookupRole(id); ok {
			return id, nil
		}
		return 0, fmt.Errorf("unknown role id %d", id)
	}
	want := strings.ToLower(strings.NewReplacer("-", " ", "_", " ").Replace(s))
	for _, r := range policy.Roles() {
		if strings.ToLower(r.Name) == want {
			return r.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// --- session ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" {
				email = prompt("Email: ")
			}
			if password == "" {
				password = prompt("Password: ")
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.post(cmd.Context(), "/api/auth/login", map[string]any{
				"email":    email,
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["accessToken"].(string); ok {
				cfg.Token = tok
				cfg.TokenExpiresAt = time.Time{}
				if exp, ok := result["expiresAt"].(string); ok {
					cfg.TokenExpiresAt, _ = time.Parse(time.RFC3339, exp)
				}
				if err := saveConfig(configPath(), cfg); err == nil {
					fmt.Fprintln(os.Stderr, "Token saved to config.")
				}
			}
			if user, ok := result["user"].(map[string]any); ok {
				printResult(user)
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if _, err := client.post(cmd.Context(), "/api/auth/logout", nil); err != nil {
				printError(err.Error())
			}
			cfg.Token = ""
			cfg.TokenExpiresAt = time.Time{}
			if err := saveConfig(configPath(), cfg); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user, role and navigation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.tokenExpired(time.Now()) {
				fmt.Fprintln(os.Stderr, "Saved token has expired, run `dashctl login`.")
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/auth/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- users ---

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage dashboard users"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/users?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, "id", "email", "firstName", "lastName", "roleId")
			return nil
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum number of users")
	listCmd.Flags().Int("offset", 0, "Number of users to skip")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/users/" + url.PathEscape(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			if d, ok := result["data"].(map[string]any); ok {
				printResult(d)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	setRoleCmd := &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Change a user's role (Super Admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id: %s", args[0])
			}
			roleID, err := parseRole(args[1])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			if _, err := client.put(cmd.Context(), "/api/users/update-role", map[string]any{
				"userId": userID,
				"roleId": roleID,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess(fmt.Sprintf("Success! User %d is now %s.", userID, policy.RoleName(roleID)))
			return nil
		},
	}

	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "List the built-in roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]any, 0, 4)
			for _, r := range policy.Roles() {
				rows = append(rows, map[string]any{
					"id":          r.ID,
					"name":        r.Name,
					"permissions": strings.Join(r.Permissions, ","),
				})
			}
			printRows(rows, "id", "name", "permissions")
			return nil
		},
	}

	cmd.AddCommand(listCmd, getCmd, setRoleCmd, rolesCmd)
	return cmd
}

// --- security ---

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alerts", Short: "Security alerts"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open security alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, _ := cmd.Flags().GetBool("resolved")
			path := "/api/security/alerts"
			if resolved {
				path += "?resolved=true"
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, "id", "alertType", "severity", "source", "count", "lastSeen", "resolved")
			return nil
		},
	}
	listCmd.Flags().Bool("resolved", false, "Include resolved alerts")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution, _ := cmd.Flags().GetString("resolution")
			client, err := newClient()
			if err != nil {
				return err
			}
			if _, err := client.post(cmd.Context(), "/api/security/alerts/"+url.PathEscape(args[0])+"/resolve", map[string]any{
				"resolution": resolution,
			}); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Resolved alert " + args[0])
			return nil
		},
	}
	resolveCmd.Flags().String("resolution", "", "What was done about the alert")
	_ = resolveCmd.MarkFlagRequired("resolution")

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit log"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Query audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, f := range []string{"action", "level", "ip", "since"} {
				if v, _ := cmd.Flags().GetString(f); v != "" {
					q.Set(f, v)
				}
			}
			if v, _ := cmd.Flags().GetInt64("user"); v > 0 {
				q.Set("userId", strconv.FormatInt(v, 10))
			}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", strconv.Itoa(limit))

			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/security/audit?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			rows, _ := result["data"].([]any)
			printRows(rows, "timestamp", "action", "level", "userId", "ipAddress", "resource", "success")
			return nil
		},
	}
	listCmd.Flags().String("action", "", "Filter by action, e.g. LOGIN_FAILED")
	listCmd.Flags().String("level", "", "Filter by level: INFO, WARNING, ERROR, SECURITY")
	listCmd.Flags().String("ip", "", "Filter by client IP")
	listCmd.Flags().String("since", "", "Only events at or after this RFC 3339 time")
	listCmd.Flags().Int64("user", 0, "Filter by user id")
	listCmd.Flags().Int("limit", 100, "Maximum number of events")

	cmd.AddCommand(listCmd)
	return cmd
}

func securityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "security", Short: "Security overview"}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the security summary for the last 24 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.get(cmd.Context(), "/api/security/summary")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(summaryCmd)
	return cmd
}

// --- local tools ---

func passwordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "password", Short: "Offline password tools"}

	hashCmd := &cobra.Command{
		Use:   "hash [password]",
		Short: "Hash a password the way the server stores it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, _ := cmd.Flags().GetInt("cost")
			var password string
			if len(args) > 0 {
				password = args[0]
			} else {
				password = prompt("Password: ")
			}
			if res := auth.ValidatePasswordStrength(password); !res.Valid {
				return fmt.Errorf("weak password: %s", strings.Join(res.Errors, "; "))
			}
			hash, err := auth.NewPasswordManager(cost).Hash(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	hashCmd.Flags().Int("cost", auth.DefaultBcryptCost, "bcrypt work factor")

	checkCmd := &cobra.Command{
		Use:   "check [password]",
		Short: "Check a password against the strength rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) > 0 {
				password = args[0]
			} else {
				password = prompt("Password: ")
			}
			res := auth.ValidatePasswordStrength(password)
			if res.Valid {
				printSuccess("Password meets all requirements.")
				return nil
			}
			for _, e := range res.Errors {
				printError(e)
			}
			return fmt.Errorf("password rejected")
		},
	}

	cmd.AddCommand(hashCmd, checkCmd)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "CLI configuration"}

	setAddrCmd := &cobra.Command{
		Use:   "set-address <url>",
		Short: "Set the dashboard server address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := url.ParseRequestURI(args[0]); err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
			cfg.Address = args[0]
			if err := saveConfig(configPath(), cfg); err != nil {
				return err
			}
			printSuccess("Address saved to " + configPath())
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the CLI configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := "(none)"
			switch {
			case cfg.tokenExpired(time.Now()):
				token = "(expired)"
			case cfg.Token != "":
				token = "(set)"
			}
			printResult(map[string]any{
				"address":     cfg.Address,
				"token":       token,
				"tls_ca_cert": cfg.TLSCACert,
				"path":        configPath(),
			})
			return nil
		},
	}

	cmd.AddCommand(setAddrCmd, showCmd)
	return cmd
}
