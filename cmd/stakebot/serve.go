package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/copperline/stakebot/claims"
	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/flows"
	"github.com/copperline/stakebot/gateway"
	"github.com/copperline/stakebot/internal/logutil"
	"github.com/copperline/stakebot/providers/agentd"
	"github.com/copperline/stakebot/providers/binkapi"
	"github.com/copperline/stakebot/session"
	"github.com/copperline/stakebot/telegram"
	"github.com/copperline/stakebot/users"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the claim settlement worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().String("telegram-token", "", "Telegram bot token (overrides telegram.token).")
	_ = viper.BindPFlag("telegram.token", cmd.Flags().Lookup("telegram-token"))
	return cmd
}

func runServe(parent context.Context) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}

	token := strings.TrimSpace(viper.GetString("telegram.token"))
	if token == "" {
		return errors.New("telegram.token is required (flag --telegram-token or STAKEBOT_TELEGRAM_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable storage: users and claim records share one sqlite file.
	db, err := sql.Open("sqlite", viper.GetString("db.path"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	userStore, err := users.NewStore(db)
	if err != nil {
		return err
	}
	claimStore, err := claims.NewStore(db)
	if err != nil {
		return err
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	sessions := session.NewRedisStore(redisClient)

	pollTimeout := viper.GetDuration("telegram.poll_timeout")
	api := telegram.NewAPI(
		&http.Client{Timeout: pollTimeout + 15*time.Second},
		viper.GetString("telegram.endpoint"),
		token,
	)
	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	logger.Info("telegram_start", "bot", me.Username)

	bink := binkapi.New(viper.GetString("bink.url"), viper.GetString("bink.api_key"))
	engineFactory := agentd.NewFactory(viper.GetString("agent.url"), viper.GetString("agent.api_key"), logger)

	gw := gateway.New(api, engineFactory, logger, gateway.Options{
		MaxHandles:  viper.GetInt("agent.max_handles"),
		UnlockDelay: viper.GetDuration("claims.unlock_delay"),
		Claims:      claimStore,
	})

	fl := flows.New(api, sessions, bink, bink, userStore, gw, logger)
	router := command.NewRouter(logger)
	fl.Register(router)

	var wg sync.WaitGroup
	if contract := strings.TrimSpace(viper.GetString("chain.pool_contract")); contract != "" {
		pool, err := claims.NewPoolGateway(ctx, viper.GetString("chain.rpc_url"), contract)
		if err != nil {
			return err
		}
		defer pool.Close()
		worker := claims.NewWorker(claimStore, pool, userStore, logger, claims.WorkerConfig{
			Interval:   viper.GetDuration("claims.interval"),
			BatchSize:  viper.GetInt("claims.batch_size"),
			StaleAfter: viper.GetDuration("claims.stale_after"),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = worker.Run(ctx)
		}()
	} else {
		logger.Warn("claim_worker_disabled", "reason", "chain.pool_contract not set")
	}

	pollLoop(ctx, api, router, pollTimeout, logger)

	stop()
	wg.Wait()
	logger.Info("telegram_stop")
	return nil
}

// chatWorker serializes all events of one chat. Buffered so a slow
// agent turn does not stall the poll loop; overflow drops the event.
type chatWorker struct {
	jobs chan telegram.Update
}

func pollLoop(ctx context.Context, api *telegram.API, router *command.Router, pollTimeout time.Duration, logger *slog.Logger) {
	workers := make(map[int64]*chatWorker)
	var wg sync.WaitGroup
	defer func() {
		for _, w := range workers {
			close(w.jobs)
		}
		wg.Wait()
	}()

	workerFor := func(chatID int64) *chatWorker {
		if w, ok := workers[chatID]; ok {
			return w
		}
		w := &chatWorker{jobs: make(chan telegram.Update, 16)}
		workers[chatID] = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for update := range w.jobs {
				handleUpdate(ctx, router, update)
			}
		}()
		return w
	}

	var offset int64
	for ctx.Err() == nil {
		updates, next, err := api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("telegram_poll_error", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		offset = next

		for _, update := range updates {
			chatID, ok := updateChatID(update)
			if !ok {
				continue
			}
			w := workerFor(chatID)
			select {
			case w.jobs <- update:
			default:
				logger.Warn("telegram_chat_queue_full", "chat_id", chatID, "update_id", update.UpdateID)
			}
		}
	}
}

func updateChatID(u telegram.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID, true
	}
	return 0, false
}

func handleUpdate(ctx context.Context, router *command.Router, u telegram.Update) {
	if cq := u.CallbackQuery; cq != nil {
		req := command.Request{
			QueryID: cq.ID,
		}
		if cq.Message != nil {
			req.MessageID = cq.Message.MessageID
			if cq.Message.Chat != nil {
				req.ChatID = cq.Message.Chat.ID
			}
		}
		if cq.From != nil {
			req.UserID = cq.From.ID
			req.Username = cq.From.Username
		}
		router.DispatchCallback(ctx, cq.Data, req)
		return
	}

	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	req := command.Request{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.From != nil {
		req.UserID = msg.From.ID
		req.Username = msg.From.Username
	}
	router.DispatchMessage(ctx, req)
}
