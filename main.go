// SOURCE terminal client - optimistic chat with the SOURCE assistant and
// the shared community feed.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/yessusuper/alpha-source/internal/client"
	"github.com/yessusuper/alpha-source/internal/config"
	"github.com/yessusuper/alpha-source/internal/model"
	"github.com/yessusuper/alpha-source/internal/poll"
	"github.com/yessusuper/alpha-source/internal/retry"
	"github.com/yessusuper/alpha-source/internal/session"
	"github.com/yessusuper/alpha-source/internal/store"
	"github.com/yessusuper/alpha-source/internal/util"
)

// Conversation ids mirror the server-side log names.
const (
	conversationAssistant = "assistant"
	conversationCommunity = "community"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Printf("source %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()

	app, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	app.run()
}

// newLogger writes human-readable logs to a file so they don't tear up
// the prompt. Falls back to stderr when the config dir is unavailable.
func newLogger() zerolog.Logger {
	dir, err := config.ConfigDir()
	if err != nil {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	os.MkdirAll(dir, 0755)

	f, err := os.OpenFile(filepath.Join(dir, "client.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(f).With().Timestamp().Logger()
}

// =============================================================================
// APPLICATION STATE
// =============================================================================

type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	api     *client.Client
	manager *session.Manager
	sync    *poll.Synchronizer
	feed    *store.Store

	line     *liner.State
	username string

	// feedAtt is staged for the next community post; the assistant
	// session stages its own attachment in the manager.
	feedAtt *model.Attachment
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	c := client.New(&client.Config{
		BaseURL: cfg.Client.BaseURL,
		Author:  cfg.Client.Username,
	})

	chat := store.New(conversationAssistant)
	chat.SetStaleAfter(cfg.Poll.StaleAfter)

	manager := session.NewManager(session.Config{
		Author:         cfg.Client.Username,
		ConversationID: conversationAssistant,
		Params:         cfg.Generation.Params(),
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay(),
		},
	}, chat, c, logger)

	feed := store.New(conversationCommunity)
	feed.SetStaleAfter(cfg.Poll.StaleAfter)

	sync := poll.NewSynchronizer(c, logger)
	sync.Start(conversationCommunity, feed, cfg.Poll.Interval())

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	return &app{
		cfg:      cfg,
		logger:   logger,
		api:      c,
		manager:  manager,
		sync:     sync,
		feed:     feed,
		line:     line,
		username: cfg.Client.Username,
	}, nil
}

func (a *app) close() {
	a.sync.StopAll()
	a.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

func (a *app) run() {
	fmt.Println("SOURCE - assistant scolaire")
	fmt.Printf("Connecté à %s en tant que %s\n", a.cfg.Client.BaseURL, a.username)
	fmt.Println("Tape un message pour parler à SOURCE, ou /help pour les commandes.")
	fmt.Println()

	for {
		input, err := a.line.Prompt("> ")
		if err != nil {
			// Ctrl-C or Ctrl-D ends the session.
			fmt.Println()
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		a.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.handleCommand(input); quit {
				return
			}
			continue
		}

		a.submit(input)
	}
}

// submit runs one assistant exchange and prints the outcome.
func (a *app) submit(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := a.manager.Submit(ctx, text)
	switch {
	case err == session.ErrBusy:
		fmt.Println("(un envoi est déjà en cours)")
		return
	case err == session.ErrEmptyDraft:
		return
	case err != nil:
		fmt.Printf("Erreur: %v\n", err)
		return
	}

	if result.Failed {
		fmt.Printf("\n%s\n\n", result.Reply.Body)
		return
	}

	fmt.Printf("\nSOURCE: %s\n\n", result.Reply.Body)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (a *app) handleCommand(input string) (quit bool) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		printHelp()

	case "/quit", "/exit":
		return true

	case "/feed":
		a.printFeed()

	case "/post":
		a.postToFeed(strings.TrimSpace(strings.TrimPrefix(input, "/post")))

	case "/attach":
		if len(args) != 1 {
			fmt.Println("Usage: /attach <fichier>")
			break
		}
		a.attach(args[0])

	case "/attach-feed":
		if len(args) != 1 {
			fmt.Println("Usage: /attach-feed <fichier>")
			break
		}
		a.attachFeed(args[0])

	case "/clear":
		a.manager.ClearAttachment()
		a.feedAtt = nil
		fmt.Println("Pièces jointes retirées.")

	case "/cours":
		a.printCourses()

	case "/depot":
		if len(args) == 0 {
			fmt.Println("Usage: /depot <fichier> [titre]")
			break
		}
		a.depositCourse(args[0], strings.Join(args[1:], " "))

	case "/params":
		a.setParams(args)

	case "/login":
		a.login(args)

	case "/new":
		a.manager.Reset()
		fmt.Println("Nouvelle discussion.")

	default:
		fmt.Printf("Commande inconnue: %s (essaie /help)\n", cmd)
	}

	return false
}

func printHelp() {
	fmt.Println(`Commandes:
  /feed                  affiche le fil communautaire
  /post <texte>          publie un message sur le fil
  /attach <fichier>      joint un fichier au prochain envoi à l'assistant
  /attach-feed <fichier> joint un fichier au prochain /post
  /clear                 retire les pièces jointes en attente
  /cours                 affiche le catalogue des cours déposés
  /depot <fichier> [titre]  dépose un fichier de cours
  /params [créativité] [longueur]  règle les paramètres de génération
  /login <nom>           s'identifie auprès du serveur
  /new                   démarre une nouvelle discussion
  /quit                  quitte`)
}

// =============================================================================
// COMMUNITY FEED
// =============================================================================

func (a *app) printFeed() {
	msgs := a.feed.Snapshot()
	if len(msgs) == 0 {
		fmt.Println("(le fil est vide)")
		return
	}

	for _, m := range msgs {
		marker := ""
		if m.IsProvisional() {
			marker = " (envoi...)"
		}
		body := util.TruncateRunes(m.Body, 120)
		fmt.Printf("[%s] %s%s: %s\n", m.CreatedAt.Local().Format("15:04"), m.Author, marker, body)
		if m.Attachment != nil && m.Attachment.Path != "" {
			fmt.Printf("         └ %s\n", m.Attachment.Path)
		}
	}
}

// postToFeed writes the entry optimistically, then sends it with the
// bounded retry executor; the poll loop or the direct response confirms
// it, whichever lands first. The feed has its own staged attachment so
// a /post never consumes the file staged for the assistant.
func (a *app) postToFeed(text string) {
	att := a.feedAtt
	if text == "" && att == nil {
		return
	}
	a.feedAtt = nil

	draft := model.NewProvisional(a.username, text, att)
	provisionalID := a.feed.AppendProvisional(draft)

	exec := retry.NewExecutor(retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Delay:       a.cfg.Retry.Delay(),
	})

	var confirmed *model.Message
	_, err := exec.Execute(context.Background(), func(ctx context.Context) error {
		posted, err := a.api.PostMessage(ctx, &client.PostRequest{
			ConversationID: conversationCommunity,
			Author:         a.username,
			Body:           text,
			TempID:         draft.TempID,
			Attachment:     att,
		})
		if err != nil {
			return err
		}
		confirmed = posted
		return nil
	})

	if err != nil {
		fmt.Println("Impossible de publier le message pour le moment.")
		a.logger.Warn().Err(err).Msg("community post failed terminally")
		return
	}

	a.feed.Reconcile(provisionalID, confirmed)
	fmt.Println("Publié.")
}

// =============================================================================
// ATTACHMENTS, PARAMS, LOGIN
// =============================================================================

func loadAttachment(path string) (*model.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &model.Attachment{Name: name, MIMEType: mimeType, Data: data}, nil
}

func (a *app) attach(path string) {
	att, err := loadAttachment(path)
	if err != nil {
		fmt.Printf("Impossible de lire %s: %v\n", path, err)
		return
	}

	a.manager.Attach(att)
	fmt.Printf("Pièce jointe pour l'assistant: %s (%d octets)\n", att.Name, len(att.Data))
}

func (a *app) attachFeed(path string) {
	att, err := loadAttachment(path)
	if err != nil {
		fmt.Printf("Impossible de lire %s: %v\n", path, err)
		return
	}

	a.feedAtt = att
	fmt.Printf("Pièce jointe pour le fil: %s (%d octets)\n", att.Name, len(att.Data))
}

func (a *app) setParams(args []string) {
	p := a.manager.Params()

	if len(args) == 0 {
		fmt.Printf("créativité=%.2f longueur=%d mode=%s niveau=%s\n",
			p.Creativity, p.ResponseLength, p.Mode, p.SchoolLevel)
		return
	}

	if len(args) >= 1 {
		if v, err := strconv.ParseFloat(args[0], 64); err == nil && v >= 0 && v <= 2 {
			p.Creativity = v
		}
	}
	if len(args) >= 2 {
		if v, err := strconv.Atoi(args[1]); err == nil && v > 0 {
			p.ResponseLength = v
		}
	}

	a.manager.SetParams(p)
	fmt.Printf("Paramètres: créativité=%.2f longueur=%d\n", p.Creativity, p.ResponseLength)
}

func (a *app) login(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: /login <nom>")
		return
	}
	username := args[0]

	password, err := a.line.PasswordPrompt("Mot de passe: ")
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := a.api.Login(ctx, username, password)
	if err != nil {
		fmt.Printf("Échec de la connexion: %v\n", err)
		return
	}
	if !resp.Success {
		fmt.Println("Identifiants refusés.")
		return
	}

	a.username = resp.Username
	// Both the chat wire identity and the local provisional author
	// follow the login.
	a.api.SetAuthor(a.username)
	a.manager.SetAuthor(a.username)
	fmt.Printf("Connecté en tant que %s.\n", a.username)
}

// =============================================================================
// COURSES
// =============================================================================

func (a *app) printCourses() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalogue, err := a.api.FetchCourses(ctx)
	if err != nil {
		fmt.Printf("Impossible de récupérer les cours: %v\n", err)
		return
	}
	if len(catalogue) == 0 {
		fmt.Println("(aucun cours déposé)")
		return
	}

	for _, c := range catalogue {
		fmt.Printf("[%d] %s (%s)\n", c.ID, c.Title, c.Subject)
		fmt.Printf("    %s\n    └ %s\n", util.TruncateRunes(c.Description, 100), c.FilePath)
	}
}

func (a *app) depositCourse(path, title string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Impossible de lire %s: %v\n", path, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	course, err := a.api.DepositCourse(ctx, &client.CourseRequest{
		Title:    title,
		FileName: filepath.Base(path),
		Data:     data,
	})
	if err != nil {
		fmt.Printf("Impossible de déposer le cours: %v\n", err)
		return
	}

	fmt.Printf("Cours déposé: %s (%s)\n", course.Title, course.FilePath)
}
