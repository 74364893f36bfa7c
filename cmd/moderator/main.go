package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/strangercall/backend/internal/messaging"
	"github.com/strangercall/backend/internal/moderation"
)

func main() {
	_ = godotenv.Load()

	// An unloadable model is fatal: a moderator that cannot score text must
	// not join the responder queue group.
	modelPath := os.Getenv("MODEL_PATH")
	model, err := moderation.LoadModel(modelPath)
	if err != nil {
		log.Fatalf("failed to load toxicity model: %v", err)
	}
	if modelPath == "" {
		log.Printf("moderator: using embedded default term list")
	} else {
		log.Printf("moderator: loaded model from %s", modelPath)
	}

	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "strangercall-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeModerationCheck(func(data []byte) []byte {
		var req moderation.CheckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("moderator: bad check request: %v", err)
			resp, _ := json.Marshal(moderation.CheckResponse{Error: "malformed request"})
			return resp
		}

		resp, _ := json.Marshal(moderation.CheckResponse{
			Abusive: model.Abusive(req.Text),
		})
		return resp
	})
	if err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}

	log.Printf("moderator: serving on %s (queue group moderators)", messaging.SubjectModerationCheck)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("received signal %v, shutting down...", sig)
	natsClient.Close()
}
