// Command demo runs chat and a two-scene project end to end against in-memory stores and
// simulated providers. No credentials or external services are needed.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"cineai/internal/config"
	"cineai/internal/domain/model"
	"cineai/internal/infra/adapters/ai"
	"cineai/internal/infra/adapters/synth"
	"cineai/internal/infra/db/memory"
	"cineai/internal/infra/logging"
	"cineai/internal/infra/sched"
	"cineai/internal/infra/scheduler"
	"cineai/internal/infra/storage"
	"cineai/internal/infra/worker"
	"cineai/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)
	quiet := zerolog.Nop()

	dir, err := os.MkdirTemp("", "cineai-demo-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	files, err := storage.NewFileStore(dir)
	if err != nil {
		log.Fatalf("file store: %v", err)
	}

	// 1. Providers: a flaky chat provider in front of echo, simulated synthesis, real composer
	reg := usecase.NewProviderRegistry()
	reg.RegisterChat(ai.NewCompatAdapter("offline", "demo-key", "", "http://127.0.0.1:1", time.Second), true)
	reg.RegisterChat(ai.NewEchoAdapter("echo", 50*time.Millisecond), true)
	reg.RegisterSynthesis(synth.NewSimulated("simulated", 50), true)
	reg.RegisterSynthesis(synth.NewComposer("composer"), true)
	reg.SetOrder(model.CapabilityChat, []string{"offline", "echo"})
	reg.SetOrder(model.CapabilityVideo, []string{"simulated"})
	reg.SetOrder(model.CapabilityAssembly, []string{"composer"})

	// 2. Use cases
	convs := usecase.NewConversationStore(memory.NewConversationRepo(), nil, nil, &quiet)
	dispatcher := usecase.NewFallbackDispatcher(reg, convs, ai.NewTokenCounter(), usecase.DispatcherConfig{HistoryLimit: 10}, logger)
	tracker := usecase.NewJobTracker(memory.NewJobRepo(), dispatcher, files, nil, logger)

	pool := worker.NewPool(4, logger)
	pool.Start(ctx)
	defer pool.Stop()

	projects := usecase.NewProjectScheduler(tracker, pool, logger)
	generation := usecase.NewGenerationUseCase(tracker, projects, pool, logger)
	chat := usecase.NewChatUseCase(dispatcher, convs, "", logger)

	// 3. Chat with fallback: "offline" fails, "echo" answers
	res, err := chat.Send(ctx, "demo-user", "demo-conv", "Write a tagline for a video about the sea", usecase.ChatOptions{})
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	log.Printf("chat answered by %s after %d earlier attempt(s): %q", res.ProviderID, len(res.Attempts), res.Chat.Content)

	hist, err := chat.History(ctx, "demo-user", "demo-conv", 10)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	log.Printf("conversation holds %d messages", len(hist))

	// 4. Project: two scenes fan out, assembly waits for both
	done := make(chan model.JobTransition, 1)
	tracker.Subscribe(func(_ context.Context, t model.JobTransition) {
		if t.Job.Kind == model.JobKindAssembly && t.To.Terminal() {
			select {
			case done <- t:
			default:
			}
		}
	})
	assemblyID, err := generation.SubmitProject(ctx, usecase.ProjectSubmission{
		ProjectID: "demo-project",
		UserID:    "demo-user",
		Scenes: []usecase.SceneRequest{
			{SceneID: "scene-1", Input: model.GenerationRequest{Prompt: "waves rolling onto a beach at dawn"}},
			{SceneID: "scene-2", Input: model.GenerationRequest{Prompt: "a lighthouse at dusk"}},
		},
		Output: model.GenerationRequest{Resolution: "1080p"},
	})
	if err != nil {
		log.Fatalf("submit project: %v", err)
	}
	log.Printf("project submitted; assembly job %s", assemblyID)

	// 5. Reconcile loop drives the simulated scenes to completion
	reconciler := sched.NewJobReconciler(tracker, reg, nil, sched.ReconcilerConfig{}, logger)
	loop := scheduler.NewScheduler("reconcile", 200*time.Millisecond, 5*time.Second, reconciler.Tick, logger)
	loop.Start(ctx)
	defer loop.Stop()

	select {
	case t := <-done:
		if t.To != model.JobCompleted {
			log.Fatalf("assembly ended %s: %s", t.To, t.Job.LastError)
		}
		log.Printf("assembly completed; manifest stored as %s", t.Job.AssetRef)
	case <-ctx.Done():
		log.Fatalf("timed out waiting for assembly")
	}

	st, err := generation.JobStatus(ctx, "demo-user", assemblyID)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	log.Printf("final status:\n%s", out)
}
