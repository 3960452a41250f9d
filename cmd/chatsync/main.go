// Command chatsync is a thin harness around the chat session engine: it can
// send a question in the active conversation of a knowledge base, list
// conversations, or watch document ingestion progress.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/adapters/api"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/adapters/sessionstore"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/usecases"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/config"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config (optional)")
		kb       = flag.String("kb", "", "knowledge base id (required)")
		ask      = flag.String("ask", "", "question to send in the active conversation")
		watch    = flag.String("watch", "", "comma-separated document ids to watch until ingestion finishes")
		newChat  = flag.Bool("new", false, "start a new conversation before sending")
		listOnly = flag.Bool("list", false, "print the conversation list and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	if *kb == "" {
		log.Fatalf("-kb is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := api.NewClient(cfg.ServiceURL, time.Duration(cfg.RequestTimeout), lg)

	if *watch != "" {
		watchDocuments(ctx, client, time.Duration(cfg.PollInterval), strings.Split(*watch, ","), lg)
		return
	}

	var store ports.SessionStore
	sqlStore, err := sessionstore.NewSQLiteStore(cfg.DataDir, lg)
	if err != nil {
		lg.Warn("session store unavailable; sessions will not persist", "error", err)
		store = sessionstore.NewMemoryStore()
	} else {
		defer sqlStore.Close()
		store = sqlStore
		watchStore(ctx, sqlStore.Path(), lg)
	}

	list := usecases.NewConversationList(client, lg)
	ctrl := usecases.NewSessionController(*kb, client, client, store, cfg.QueryOptions(), func() {
		// Background refresh after mutations; failures are already logged.
		_ = list.Refresh(context.Background(), *kb)
	}, lg)

	if err := list.Refresh(ctx, *kb); err == nil {
		ctrl.ResolveActive(ctx, list.Items())
	}

	if *listOnly {
		for _, c := range list.Items() {
			marker := " "
			if c.ID == ctrl.Snapshot().ConversationID {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, c.ID, c.Label())
		}
		return
	}

	if *newChat {
		ctrl.StartNewChat()
	}

	if *ask == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := ctrl.SendMessage(ctx, *ask); err != nil {
		lg.Error("send failed", "error", err)
		os.Exit(1)
	}

	state := ctrl.Snapshot()
	answer := state.Messages[len(state.Messages)-1]
	fmt.Println(answer.Content)
	for _, s := range answer.Sources {
		fmt.Printf("  [%s #%d] score %.2f\n", s.Filename, s.ChunkIndex, s.Score)
	}
}

// watchDocuments polls ingestion status until every document reaches a
// terminal state or the context is cancelled.
func watchDocuments(ctx context.Context, svc ports.DocumentStatusService, interval time.Duration, ids []string, lg *logger.Logger) {
	poller := usecases.NewStatusPoller(svc, interval, func(s entities.DocumentStatus) {
		line := fmt.Sprintf("%s: %s", s.ID, s.Status)
		if s.ProcessingStage != "" {
			line += " (" + s.ProcessingStage + ")"
		}
		if s.Status == entities.DocumentProcessing {
			line += fmt.Sprintf(" %.0f%%", s.ProgressPercentage)
		}
		if s.ErrorMessage != "" {
			line += " - " + s.ErrorMessage
		}
		fmt.Println(line)
	}, lg)

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		poller.Track(entities.DocumentStatus{ID: id, Status: entities.DocumentPending})
	}

	poller.Start(ctx)
	defer poller.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := poller.Summary()
			if s.Pending == 0 && s.Processing == 0 {
				fmt.Printf("done: %d completed, %d failed\n", s.Completed, s.Failed)
				return
			}
		}
	}
}

// watchStore logs when another process rewrites the persisted session, so
// concurrent tabs are at least visible.
func watchStore(ctx context.Context, dbPath string, lg *logger.Logger) {
	watcher, err := sessionstore.NewFSWatcher(dbPath, lg)
	if err != nil {
		lg.Warn("store watcher unavailable", "error", err)
		return
	}
	events, err := watcher.Watch(ctx)
	if err != nil {
		lg.Warn("store watcher unavailable", "error", err)
		watcher.Stop()
		return
	}
	go func() {
		defer watcher.Stop()
		for range events {
			lg.Info("session store modified by another process; last write wins")
		}
	}()
}
