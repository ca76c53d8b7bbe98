package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const version = "0.1.0"

type runCmd struct{}

type versionCmd struct{}

type loginCmd struct {
	Username      string `short:"u" help:"Username (defaults to auth.username)"`
	PasswordStdin bool   `help:"Read the password from stdin instead of prompting"`
	Save          bool   `help:"Remember the server and username in .streamchat/conf.toml"`
}

type signupCmd struct {
	Username      string `short:"u" required:"" help:"Username for the new account"`
	Email         string `short:"e" help:"Email address"`
	PasswordStdin bool   `help:"Read the password from stdin instead of prompting"`
}

type logoutCmd struct{}

type whoamiCmd struct{}

// adminArgs are shared by the admin actions. The action runs as the user
// logged in with these credentials.
type adminArgs struct {
	URL           string `arg:"" name:"action-url" help:"Action URL, absolute or relative to the server"`
	Username      string `short:"u" help:"Admin username (defaults to auth.username)"`
	PasswordStdin bool   `help:"Read the password from stdin instead of prompting"`
}

type disableMFACmd struct{ adminArgs }

type revokeSessionsCmd struct{ adminArgs }

type stopGenerationCmd struct{ adminArgs }

type adminCmd struct {
	DisableMFA     disableMFACmd     `cmd:"disable-mfa" help:"Disable multi-factor auth for a user"`
	RevokeSessions revokeSessionsCmd `cmd:"revoke-sessions" help:"Log a user out of every session"`
	StopGeneration stopGenerationCmd `cmd:"stop-generation" help:"Stop a pending reply generation"`
}

var program *tea.Program

var logLevel = new(slog.LevelVar)

var stdin = bufio.NewReader(os.Stdin)

var cli struct {
	Prompt string `short:"p" help:"Send one message and print the reply"`
	Server string `help:"Chat server URL (overrides server.url)"`

	Run     runCmd     `cmd:"" default:"1" help:"Run the interactive chat"`
	Version versionCmd `cmd:"version" help:"Print version information"`
	Login   loginCmd   `cmd:"" help:"Log in and store the access token"`
	Signup  signupCmd  `cmd:"" help:"Create an account and store the access token"`
	Logout  logoutCmd  `cmd:"" help:"Log out and forget the stored token"`
	Whoami  whoamiCmd  `cmd:"" help:"Show the logged-in user"`
	Admin   adminCmd   `cmd:"" help:"Run an admin panel action"`
}

func initLogger() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("failed to get user home directory: %w", err))
	}

	logDir := filepath.Join(homeDir, ".local", "share", "streamchat")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic(fmt.Errorf("failed to create log directory %s: %w", logDir, err))
	}

	// Set up lumberjack for log rotation
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "streamchat.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, opts)))
}

func loadConfig() *Config {
	config, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Using defaults due to config load failure: %v\n", err)
		defaults := defaultConfig()
		config = &defaults
	}
	if cli.Server != "" {
		config.Server.URL = cli.Server
	}
	logLevel.Set(config.SlogLevel())
	return config
}

func (v versionCmd) Run() error {
	fmt.Printf("streamchat v%s\n", version)
	return nil
}

func (r *runCmd) Run(config *Config) error {
	// Check if we are running in a terminal
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Println("This program requires a terminal to run.")
		fmt.Println("Use -p to send a single message without one.")
		return nil
	}

	token, err := ResolveToken(config)
	if err != nil {
		slog.Warn("token.lookup_failed", "error", err)
	}
	auth, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	auth.SetToken(token)

	conns := NewConnectionManager(config.Server.URL, func(m any) {
		if program != nil {
			program.Send(m)
		}
	}, WithKeepAlive(config.KeepAlive()))
	session := NewChatSession(conns)
	defer session.Unmount()

	tuiModel := NewTUIModel(config, session, auth, token)
	program = tea.NewProgram(tuiModel, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}

// runPrompt sends text and writes the reply to out. With live set the
// tokens are written as they arrive and then corrected to the finalized
// reply; otherwise only the finalized reply is written.
func runPrompt(ctx context.Context, config *Config, token, text string, out io.Writer, live bool) error {
	events := make(chan any, 64)
	done := make(chan struct{})
	defer close(done)

	notify := func(m any) {
		select {
		case events <- m:
		case <-done:
		}
	}

	session := NewChatSession(NewConnectionManager(config.Server.URL, notify, WithKeepAlive(config.KeepAlive())))
	gen := session.Mount()
	defer session.Unmount()

	h, err := session.Connect(ctx, token)
	if err != nil {
		return err
	}
	session.Attach(gen, h)
	if err := session.Submit(text); err != nil {
		return err
	}

	var printed strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev := ev.(type) {
			case FrameMsg:
				if live && ev.HandleID == h.ID && ev.Frame.Kind == FrameToken {
					fmt.Fprint(out, ev.Frame.Token)
					printed.WriteString(ev.Frame.Token)
				}
				final, ok := session.Receive(ev)
				if !ok {
					continue
				}
				fmt.Fprintln(out, finalTail(printed.String(), SourceText(final.(BotMessage))))
				return nil
			case ConnectionClosedMsg:
				if session.Dropped(ev) {
					slog.Warn("prompt.connection_dropped", "error", ev.Err)
					return errors.New("connection closed before the reply completed")
				}
			}
		}
	}
}

// finalTail returns what still has to be written after the streamed
// tokens so that the output ends with the server's final text. When the
// tokens are not a prefix of it, the final text goes on its own line.
func finalTail(streamed, final string) string {
	switch {
	case streamed == "":
		return final
	case strings.HasPrefix(final, streamed):
		return final[len(streamed):]
	default:
		return "\n" + final
	}
}

func (c *loginCmd) Run(config *Config) error {
	username, err := usernameOrAsk(c.Username, config)
	if err != nil {
		return err
	}
	password, err := readPassword("Password: ", c.PasswordStdin)
	if err != nil {
		return err
	}

	client, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	res, err := client.Login(context.Background(), username, password)
	if err != nil {
		return err
	}
	if err := SaveTokenToKeyring(config.Server.URL, res.AccessToken, username); err != nil {
		return err
	}
	if c.Save {
		config.Auth.Username = username
		if err := SaveConfig(config); err != nil {
			return err
		}
	}
	fmt.Printf("Logged in to %s as %s\n", config.Server.URL, displayName(res.User, username))
	return nil
}

func (c *signupCmd) Run(config *Config) error {
	password, err := readPassword("Password: ", c.PasswordStdin)
	if err != nil {
		return err
	}

	client, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	res, err := client.Signup(context.Background(), c.Username, c.Email, password)
	if err != nil {
		return err
	}
	if err := SaveTokenToKeyring(config.Server.URL, res.AccessToken, c.Username); err != nil {
		return err
	}
	fmt.Printf("Signed up to %s as %s\n", config.Server.URL, displayName(res.User, c.Username))
	return nil
}

func (c *logoutCmd) Run(config *Config) error {
	token, err := ResolveToken(config)
	if err != nil {
		return err
	}
	client, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	client.SetToken(token)
	if token != "" {
		if err := client.Logout(context.Background()); err != nil {
			slog.Warn("auth.logout_failed", "error", err)
		}
	}
	if err := DeleteTokenFromKeyring(config.Server.URL); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func (c *whoamiCmd) Run(config *Config) error {
	token, err := ResolveToken(config)
	if err != nil {
		return err
	}
	client, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	client.SetToken(token)
	user, err := client.Me(context.Background())
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			fmt.Println("Not logged in")
			return nil
		}
		return err
	}
	fmt.Printf("%s (id %d) on %s\n", displayName(user, ""), user.ID, config.Server.URL)
	return nil
}

// adminFunc is one of the AdminClient action methods.
type adminFunc func(*AdminClient, context.Context, string) error

func (c *disableMFACmd) Run(config *Config) error {
	return runAdmin(config, ActionDisableMFA, c.adminArgs, (*AdminClient).DisableMFA)
}

func (c *revokeSessionsCmd) Run(config *Config) error {
	return runAdmin(config, ActionRevokeSessions, c.adminArgs, (*AdminClient).RevokeSessions)
}

func (c *stopGenerationCmd) Run(config *Config) error {
	return runAdmin(config, ActionStopGeneration, c.adminArgs, (*AdminClient).StopGeneration)
}

func runAdmin(config *Config, action AdminAction, args adminArgs, run adminFunc) error {
	username, err := usernameOrAsk(args.Username, config)
	if err != nil {
		return err
	}
	password, err := readPassword("Password: ", args.PasswordStdin)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := NewAuthClient(config.Server.URL)
	if err != nil {
		return err
	}
	if _, err := client.Login(ctx, username, password); err != nil {
		return err
	}
	if err := run(NewAdminClient(client), ctx, args.URL); err != nil {
		return err
	}
	fmt.Printf("%s: done\n", action)
	return nil
}

func displayName(user *User, fallback string) string {
	if user != nil && user.Username != "" {
		return user.Username
	}
	return fallback
}

func usernameOrAsk(flag string, config *Config) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if config.Auth.Username != "" {
		return config.Auth.Username, nil
	}
	fmt.Print("Username: ")
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	username := strings.TrimSpace(line)
	if username == "" {
		return "", errors.New("username is required")
	}
	return username, nil
}

// readPassword prompts without echo on a terminal, or reads one line
// from stdin when asked to or when stdin is not a terminal.
func readPassword(prompt string, fromStdin bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func main() {
	initLogger()
	ctx := kong.Parse(&cli,
		kong.Name("streamchat"),
		kong.Description("Terminal client for a streaming chat server."),
	)
	config := loadConfig()

	if cli.Prompt != "" {
		// Non-interactive mode
		token, err := ResolveToken(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
			os.Exit(1)
		}
		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = runPrompt(sigCtx, config, token, cli.Prompt, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := ctx.Run(config); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
