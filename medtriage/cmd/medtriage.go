// Command-line interface entrypoint for the triage assistant
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"medtriage/medtriage/agents/core"
	"medtriage/medtriage/config"
	"medtriage/medtriage/services/guidelines"
	"medtriage/medtriage/services/llm"
	"medtriage/medtriage/services/severity"
	"medtriage/medtriage/services/vision"
	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/logging"
)

// colorObserver renders workflow steps to the terminal as they happen.
type colorObserver struct {
	starts map[string]time.Time
}

func newColorObserver() *colorObserver {
	return &colorObserver{starts: make(map[string]time.Time)}
}

func (o *colorObserver) OnThought(text string) {
	color.Cyan("  💭 %s", text)
}

func (o *colorObserver) OnActionStart(tool, displayName string) {
	o.starts[tool] = time.Now()
	color.Yellow("  ⏳ %s ...", displayName)
}

func (o *colorObserver) OnActionEnd(tool string, payload interface{}) {
	elapsed := time.Since(o.starts[tool]).Round(time.Millisecond)
	color.Green("  ✅ %s (%s)", tool, elapsed)
}

func (o *colorObserver) OnActionError(tool string, err error) {
	color.Red("  ❌ %s: %v", tool, err)
}

func (o *colorObserver) OnFinish(result types.TriageResult) {}

func main() {
	logging.InitLogger()
	cfg := config.LoadConfig()

	vocab, err := intent.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		logging.ErrorLogger.Error("vocabulary load error", zap.Error(err))
		os.Exit(1)
	}

	kb := guidelines.NewHTTPKnowledgeBase(cfg.KnowledgeBaseURL)
	orchestrator := core.NewOrchestrator(
		intent.NewRuleClassifier(vocab, cfg.KeywordDensityThreshold),
		vocab,
		core.Collaborators{
			Generator: llm.NewOllamaClient(cfg.LLMBaseURL, cfg.LLMModel),
			Vision:    vision.NewHTTPAnalyzer(cfg.VisionBaseURL),
			Severity:  severity.NewHTTPEngine(cfg.SeverityBaseURL),
			Retriever: guidelines.NewChainRetriever(kb, vocab, cfg.VectorMatchThreshold),
		},
		core.Options{ImageConfidenceThreshold: cfg.ImageConfidenceThreshold},
	)
	sessionID := fmt.Sprintf("cli-%s", uuid.New().String()[:8])
	fmt.Printf("\n🩺 Medical triage console\n\n")
	fmt.Println("Session:", sessionID)
	fmt.Println()
	fmt.Println("Describe your symptoms in Vietnamese or English.")
	fmt.Println("Attach an image with:  image <url> <text>")
	fmt.Println("Type 'exit' to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("triage> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			fmt.Println("👋 Tạm biệt!")
			break
		}
		if line == "" {
			continue
		}

		var imageURL string
		if strings.HasPrefix(line, "image ") {
			parts := strings.SplitN(strings.TrimPrefix(line, "image "), " ", 2)
			imageURL = parts[0]
			line = ""
			if len(parts) == 2 {
				line = strings.TrimSpace(parts[1])
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		result := orchestrator.Run(ctx, core.RunInput{
			Text:      line,
			ImageURL:  imageURL,
			SessionID: sessionID,
		}, newColorObserver())
		cancel()

		printResult(result)
	}
}

func printResult(result types.TriageResult) {
	fmt.Println()
	switch result.TriageLevel {
	case types.LevelEmergency:
		color.New(color.FgRed, color.Bold).Printf("🚨 MỨC ĐỘ: %s\n", result.TriageLevel)
	case types.LevelUrgent:
		color.New(color.FgYellow, color.Bold).Printf("⚠️  MỨC ĐỘ: %s\n", result.TriageLevel)
	default:
		color.New(color.FgGreen).Printf("MỨC ĐỘ: %s\n", result.TriageLevel)
	}
	if result.Narrative != "" {
		fmt.Println(result.Narrative)
	}
	for _, flag := range result.RedFlags {
		color.Red("  ⚑ %s", flag)
	}
	for _, sc := range result.SuspectedConditions {
		fmt.Printf("  • %s (%s, %s)\n", sc.Name, sc.Source, sc.Confidence)
	}
	if result.Recommendation.Action != "" {
		fmt.Printf("→ %s (%s)\n", result.Recommendation.Action, result.Recommendation.Timeframe)
	}
	fmt.Println()
}
