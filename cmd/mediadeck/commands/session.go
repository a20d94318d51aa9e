package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/mediadeck/internal/app"
	"github.com/florianilch/mediadeck/internal/authhttp"
	"github.com/florianilch/mediadeck/internal/session"
	"github.com/florianilch/mediadeck/internal/tokenstore"
)

// sessionRun is the body of a session command.
type sessionRun func(ctx context.Context, cmd *cli.Command, in *commandInput, cfg *app.Config, sess *app.Session) error

// maxResponseBody bounds what `get` prints.
const maxResponseBody = 16 << 20

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "start a session with credentials or a token pair",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "account name; the password is read from the terminal or stdin",
			},
			&cli.BoolFlag{
				Name:  "from-env",
				Usage: "import the pair from " + envAccessToken + " and " + envRefreshToken,
			},
		},
		Action: sessionAction(loginAction),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "end the session and forget the stored tokens",
		Action: sessionAction(logoutAction),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the session state, renewing the access token if needed",
		Action: sessionAction(statusAction),
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "perform an authenticated GET against the backend and print the response",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "accept",
				Usage: "Accept header sent to the backend",
				Value: defaultAccept,
			},
		},
		Action: sessionAction(getAction),
	}
}

// sessionAction loads config and wires a session for one command run. The
// command name is recorded as the route; only feature commands navigate.
func sessionAction(run sessionRun) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, input, err := loadCommand(cmd.String("config"), cmd, os.Environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		shutdownTelemetry, err := instrument(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.WithoutCancel(ctx)) }()

		errOut := errWriter(cmd)
		navigator := session.NewNavigator(
			func(ctx context.Context) bool { return session.RouteFrom(ctx) != "get" },
			func(context.Context) {
				fmt.Fprintln(errOut, "Session expired. Run `mediadeck login` to sign in again.")
			},
		)

		sess, err := app.NewSession(ctx, cfg, navigator)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Close() }()

		return run(session.WithRoute(ctx, cmd.Name), cmd, input, cfg, sess)
	}
}

func loginAction(ctx context.Context, cmd *cli.Command, in *commandInput, _ *app.Config, sess *app.Session) error {
	var pair tokenstore.Pair

	switch {
	case in.FromEnv:
		var err error
		if pair, err = in.Tokens.Load(ctx); err != nil {
			return fmt.Errorf("reading tokens from environment: %w", err)
		}
	case in.Username != "":
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		pair, err = sess.Client.Obtain(ctx, in.Username, password)
		if err != nil {
			return err
		}
	default:
		return errors.New("either --username or --from-env is required")
	}

	if err := sess.Coordinator.Login(ctx, pair); err != nil {
		return err
	}

	fmt.Fprintln(outWriter(cmd), "Logged in.")
	return nil
}

func logoutAction(ctx context.Context, cmd *cli.Command, _ *commandInput, _ *app.Config, sess *app.Session) error {
	if err := sess.Coordinator.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(outWriter(cmd), "Logged out.")
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command, _ *commandInput, cfg *app.Config, sess *app.Session) error {
	out := outWriter(cmd)

	state := sess.Coordinator.State(ctx)
	var expiresAt time.Time
	if state == session.Valid || state == session.Expired {
		token, err := sess.Coordinator.Token(ctx)
		if err != nil && !errors.Is(err, session.ErrSessionExpired) {
			return err
		}
		if err == nil {
			expiresAt = token.Expiry
		}
		state = sess.Coordinator.State(ctx)
	}

	fmt.Fprintf(out, "backend:  %s\n", cfg.Backend.BaseURL)
	fmt.Fprintf(out, "storage:  %s\n", cfg.Auth.Storage)
	fmt.Fprintf(out, "session:  %s\n", state)
	if !expiresAt.IsZero() {
		fmt.Fprintf(out, "expires:  %s (in %s)\n", expiresAt.Local().Format(time.RFC3339), time.Until(expiresAt).Round(time.Second))
	}
	return nil
}

func getAction(ctx context.Context, cmd *cli.Command, in *commandInput, cfg *app.Config, sess *app.Session) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("missing path argument")
	}

	req := authhttp.Request{
		Method: http.MethodGet,
		URL:    strings.TrimSuffix(cfg.Backend.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/"),
		Header: http.Header{"Accept": []string{in.Accept}},
	}

	resp, err := sess.Executor.Send(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(outWriter(cmd), io.LimitReader(resp.Body, maxResponseBody)); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("backend answered %s", resp.Status)
	}
	return nil
}

// readPassword prompts on a terminal, otherwise reads one line from stdin.
func readPassword(cmd *cli.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(errWriter(cmd), "Password: ")
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(errWriter(cmd))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
