package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/config"
	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/infra/memory"
	pgstore "boss-battle-service/internal/infra/postgres"
	redisstore "boss-battle-service/internal/infra/redis"
	transport "boss-battle-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the boss battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)
	bankTTL := config.Duration(cfg.Battle.BankTTL, 10*time.Minute)
	statusTTL := config.Duration(cfg.Battle.StatusTTL, 2*time.Second)
	sweepInterval := config.Duration(cfg.Battle.SweepInterval, 30*time.Second)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if pool != nil {
		loader = pgstore.NewBankLoader(pool)
	}

	var banks app.BankRepository
	if redisClient != nil {
		banks = redisstore.NewBankRepository(redisClient, loader, bankTTL)
	} else {
		banks = memory.NewBankRepository(loader, bankTTL)
	}

	var attempts app.AttemptStore
	if redisClient != nil {
		attempts = redisstore.NewAttemptStore(redisClient, redisTTL)
	} else {
		attempts = memory.NewAttemptStore()
	}

	var battles app.BattleStore
	var profiles app.ProfileStore
	if pool != nil {
		battles = pgstore.NewBattleStore(pool)
		profiles = pgstore.NewProfileStore(pool)
	} else {
		battles = memory.NewBattleStore()
		profiles = memory.NewProfileStore()
	}

	service := app.NewBattleService(battles, attempts, banks, profiles)
	if redisClient != nil {
		service.UseStatusCache(redisstore.NewStatusCache(redisClient, statusTTL))
	}

	if pool == nil {
		seedDemoBattle(ctx, service)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go service.RunExpirySweep(workerCtx, sweepInterval)
	go service.RunRewardRetrier(workerCtx)

	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting boss battle service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoBattle provisions an in-memory battle so the service is playable
// without a database.
func seedDemoBattle(ctx context.Context, service *app.BattleService) {
	battle, err := service.CreateBattle(ctx, domain.Battle{
		ID:                     "battle-1",
		ClassroomID:            "classroom-1",
		BossName:               "Algebra Dragon",
		BossMaxHP:              100,
		QuestionBankID:         "bank-1",
		QuestionsPerAttempt:    3,
		DamagePerCorrect:       10,
		DamageToStudentOnWrong: 5,
		MaxAttempts:            3,
		XPPerCorrectAnswer:     20,
		GPPerCorrectAnswer:     5,
		BonusXPOnVictory:       100,
		BonusGPOnVictory:       50,
	})
	if err != nil {
		log.Printf("seed demo battle: %v", err)
		return
	}
	if _, err := service.ActivateBattle(ctx, battle.ID); err != nil {
		log.Printf("activate demo battle: %v", err)
	}
}

// sampleBanks provides minimal question data; swap the loader with the
// Postgres-backed one in production.
func sampleBanks() map[string]domain.QuestionBank {
	return map[string]domain.QuestionBank{
		"bank-1": {
			ID: "bank-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
				{
					ID:     "q2",
					Prompt: "What is 6 x 7?",
					Options: []domain.Option{
						{ID: "o1", Text: "42", Correct: true},
						{ID: "o2", Text: "36", Correct: false},
						{ID: "o3", Text: "48", Correct: false},
					},
				},
				{
					ID:     "q3",
					Prompt: "What is 12 - 5?",
					Options: []domain.Option{
						{ID: "o1", Text: "8", Correct: false},
						{ID: "o2", Text: "6", Correct: false},
						{ID: "o3", Text: "7", Correct: true},
					},
				},
			},
		},
	}
}
