// Engramic server - runs the memory pipeline services and the websocket
// streaming surface.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/engramic/engramic/pkg/api"
	"github.com/engramic/engramic/pkg/codify"
	"github.com/engramic/engramic/pkg/config"
	"github.com/engramic/engramic/pkg/consolidate"
	"github.com/engramic/engramic/pkg/host"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/progress"
	"github.com/engramic/engramic/pkg/reposcan"
	"github.com/engramic/engramic/pkg/response"
	"github.com/engramic/engramic/pkg/retrieve"
	"github.com/engramic/engramic/pkg/sense"
	"github.com/engramic/engramic/pkg/service"
	"github.com/engramic/engramic/pkg/storage"

	// Backend plugins register themselves by profile name.
	_ "github.com/engramic/engramic/pkg/plugin/db/mock"
	_ "github.com/engramic/engramic/pkg/plugin/db/postgres"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/mock"
	_ "github.com/engramic/engramic/pkg/plugin/embedding/openai"
	_ "github.com/engramic/engramic/pkg/plugin/llm/gemini"
	_ "github.com/engramic/engramic/pkg/plugin/llm/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/mock"
	_ "github.com/engramic/engramic/pkg/plugin/vectordb/qdrant"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	profileName := flag.String("profile", getEnv("ENGRAMIC_PROFILE", "standard"),
		"Active profile name")
	profileFile := flag.String("profile-file", getEnv("ENGRAMIC_PROFILE_FILE", ""),
		"Path to the profile TOML file (built-in profiles only when empty)")
	mockData := flag.String("mock-data", "", "Recorded mock data to replay")
	generateMock := flag.Bool("generate-mock-data", false,
		"Record every plugin call for later replay")
	addr := flag.String("addr", getEnv("ENGRAMIC_ADDR", ":8765"),
		"Websocket surface listen address")
	logLevel := flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	setupLogging(*logLevel)

	profiles, err := loadProfiles(*profileFile)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}
	profile, err := profiles.Resolve(*profileName)
	if err != nil {
		log.Fatalf("Failed to resolve profile %q: %v", *profileName, err)
	}

	mode := plugin.ModeLive
	var mockStore *plugin.MockStore
	switch {
	case *generateMock:
		mode = plugin.ModeRecord
	case *profileName == "mock":
		mode = plugin.ModeReplay
		if *mockData != "" {
			if mockStore, err = plugin.LoadMockData(*mockData); err != nil {
				log.Fatalf("Failed to load mock data: %v", err)
			}
		}
	}
	registry := plugin.NewRegistry(profile, mode, mockStore)

	secret, err := config.JWTSecret()
	if err != nil {
		log.Fatalf("Websocket surface requires a shared secret: %v", err)
	}
	repoRoot := os.Getenv(config.EnvRepoRoot)

	var ws *api.Service
	h := host.New(registry,
		func(h *host.Host) service.Service {
			ws = api.NewService(h, *addr, secret)
			return ws
		},
		retrieve.NewService,
		func(h *host.Host) service.Service { return response.NewService(h, ws.Relay()) },
		codify.NewService,
		consolidate.NewService,
		storage.NewService,
		progress.NewService,
		func(h *host.Host) service.Service { return sense.NewService(h, nil) },
		func(h *host.Host) service.Service { return reposcan.NewService(h, repoRoot) },
	)

	ctx := context.Background()
	if err := h.Run(ctx); err != nil {
		log.Fatalf("Failed to start host: %v", err)
	}
	slog.Info("Engramic running", "profile", *profileName, "addr", *addr)

	if err := h.WaitForShutdown(0); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}

	if *generateMock {
		if err := registry.MockData().Save("mock_data.json"); err != nil {
			log.Printf("Failed to save mock data: %v", err)
		}
	}
}

func loadProfiles(path string) (*config.Profiles, error) {
	if path == "" {
		return config.Builtin(), nil
	}
	return config.LoadFile(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
