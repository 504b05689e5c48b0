package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zkchat/zkauth/auth"
	"github.com/zkchat/zkauth/client"
)

// passwordEnv lets scripts supply the password without a terminal.
const passwordEnv = "ZKAUTH_PASSWORD"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var (
	serverURL        string
	username         string
	clientIterations int
)

func newClient() (*client.Client, error) {
	kdf, err := auth.NewKDF(clientIterations)
	if err != nil {
		return nil, err
	}
	return client.New(serverURL, client.WithKDF(kdf))
}

// getPassword reads the password from the environment or, failing that,
// from the terminal without echo.
func getPassword(w io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func requireUsername() error {
	if strings.TrimSpace(username) == "" {
		return errors.New("--username is required")
	}
	return nil
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUsername(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		password, err := getPassword(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if err := c.Register(cmd.Context(), username, password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", username)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Prove knowledge of the password and print the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUsername(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		password, err := getPassword(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		sess, err := c.Login(cmd.Context(), username, password)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session: %s\n", sess.SessionID)
		fmt.Fprintf(out, "token:   %s\n", sess.Token)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List online users",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		users, err := c.OnlineUsers(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USERNAME\tSESSION")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.SessionID)
		}
		return tw.Flush()
	},
}

var logoutToken string

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session an admission token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logoutToken == "" {
			return errors.New("--token is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Logout(cmd.Context(), logoutToken); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

var auditToken string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail of the token's user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditToken == "" {
			return errors.New("--token is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.Audit(cmd.Context(), auditToken)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEVENT\tSESSION\tREASON")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt, e.Event, e.SessionID, e.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd, usersCmd, logoutCmd, auditCmd} {
		c.Flags().StringVar(&serverURL, "server", client.DefaultServerURL, "Server URL")
		c.Flags().IntVar(&clientIterations, "kdf-iterations", auth.DefaultKDF().Iterations(), "PBKDF2 iterations; must match the server")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "Account username")
	}
	logoutCmd.Flags().StringVar(&logoutToken, "token", "", "Admission token from login")
	auditCmd.Flags().StringVar(&auditToken, "token", "", "Admission token from login")
}
