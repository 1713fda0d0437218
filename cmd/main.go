package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supportchat-ws/internal/config"
	"supportchat-ws/internal/delivery"
	"supportchat-ws/internal/domain"
	"supportchat-ws/internal/hub"
	"supportchat-ws/internal/infrastructure/auth"
	"supportchat-ws/internal/infrastructure/kafka"
	"supportchat-ws/internal/infrastructure/memory"
	"supportchat-ws/internal/infrastructure/mongo"
	"supportchat-ws/internal/infrastructure/redis"
	"supportchat-ws/internal/presence"
	"supportchat-ws/internal/service"

	"github.com/joho/godotenv"
)

type stores struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	staff         domain.StaffDirectory
	close         func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		log.Printf("Using in-memory stores with %d staff members; data is lost on restart", len(cfg.StaffMembers))
		return &stores{
			conversations: memory.NewConversationStore(),
			messages:      memory.NewMessageStore(),
			staff:         memory.NewStaffDirectory(cfg.StaffMembers...),
			close:         func(context.Context) error { return nil },
		}, nil
	}

	client, err := mongo.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	log.Printf("MongoDB connection successful (%s)", cfg.MongoDatabase)
	return &stores{
		conversations: client.Conversations(),
		messages:      client.Messages(),
		staff:         client.Staff(),
		close:         client.Close,
	}, nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Application recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	_ = godotenv.Load()

	cfg := config.LoadConfig()

	log.Printf("Starting Support Chat Server")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Instance: %s", cfg.InstanceID)
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Store: %s", cfg.StoreDriver)
	log.Printf("CORS Origins: %s", cfg.GetCORSOrigins())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := openStores(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to configure authentication: %v", err)
	}

	// Presence is advisory; the chat keeps working without Redis.
	var (
		presenceStore domain.PresenceStore
		redisClient   *redis.RedisClient
	)
	if cfg.RedisEnabled {
		client, err := redis.Connect(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
		if err != nil {
			log.Printf("Warning: Redis connection failed, presence limited to this instance: %v", err)
		} else {
			log.Println("Redis connection successful")
			redisClient = client
			presenceStore = client
		}
	}

	tracker := presence.NewTypingTracker(cfg.TypingTTL)
	chatHub := hub.NewHub(tracker, presenceStore)

	var (
		relay         delivery.Relay
		kafkaProducer *kafka.KafkaProducer
	)
	if cfg.KafkaEnabled {
		log.Printf("Kafka Brokers: %v (topic %s)", cfg.KafkaBrokers, cfg.KafkaTopic)
		kafkaProducer = kafka.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024)
		relay = kafkaProducer
	}

	dispatcher := delivery.NewEventDispatcher(chatHub, relay, cfg.InstanceID)
	svc := service.NewConversationService(st.conversations, st.messages, st.staff, dispatcher, service.Options{
		StoreTimeout: cfg.StoreTimeout,
		Origin:       cfg.InstanceID,
	})
	server := delivery.NewServer(cfg, svc, chatHub, dispatcher, verifier, presenceStore)

	go tracker.Run(ctx, cfg.TypingSweepInterval, func(e presence.Expired) {
		server.PublishTypingExpired(domain.Typing{
			ConversationID: e.ConversationID,
			SenderID:       e.SenderID,
			SenderName:     e.SenderName,
		})
	})

	var kafkaConsumer *kafka.KafkaConsumer
	if cfg.KafkaEnabled {
		go kafkaProducer.Run(ctx)

		// Every instance needs every event, so each one reads with its own group.
		kafkaConsumer = kafka.NewKafkaConsumer(cfg.KafkaBrokers, "supportchat-ws-"+cfg.InstanceID, cfg.KafkaTopic, dispatcher)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Kafka consumer goroutine recovered from panic: %v", r)
				}
			}()
			if err := kafkaConsumer.Start(ctx); err != nil {
				log.Printf("Kafka consumer error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
		if err := server.Shutdown(); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
		if kafkaConsumer != nil {
			if err := kafkaConsumer.Close(); err != nil {
				log.Printf("Error closing Kafka consumer: %v", err)
			}
		}
		if kafkaProducer != nil {
			if err := kafkaProducer.Close(); err != nil {
				log.Printf("Error closing Kafka producer: %v", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing Redis client: %v", err)
			}
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := st.close(closeCtx); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
