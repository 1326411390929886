// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianSOP/pkg/logging"
	"github.com/AleutianAI/AleutianSOP/services/orchestrator/datatypes"
)

var (
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "sopctl",
		Short: "A CLI for the Aleutian SOP question-answering service",
		Long: `sopctl talks to the SOP orchestrator: ask policy-gated questions
against the approved SOP corpus, list the configured topics, and run the
adversarial self-test.`,
	}

	topicFlag string
	topKFlag  int

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the approved SOP corpus",
		Long:  `Sends a question to the orchestrator. Answers are either grounded (every bullet cites an SOP excerpt), general advice, or a refusal.`,
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	topicsCmd = &cobra.Command{
		Use:   "topics",
		Short: "List the configured SOP topics",
		Run:   runTopicsCommand,
	}
	bypassFlag  bool
	selftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Run the adversarial probe set against the live service",
		Run:   runSelfTestCommand,
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check orchestrator liveness and Weaviate readiness",
		Run:   runHealthCommand,
	}

	docTopic    string
	docRiskTier string
	populateCmd = &cobra.Command{
		Use:   "populate [file ...]",
		Short: "Ingest SOP documents into the corpus",
		Long: `Chunks each file and indexes it under the SOPChunk class. The file name
(without extension) becomes the doc_id; use --topic and --risk-tier to set
the controlled classification for every chunk.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runPopulateCommand,
	}
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func init() {
	viper.SetEnvPrefix("SOPCTL")
	viper.AutomaticEnv()
	viper.SetDefault("orchestrator_url", "http://localhost:12210")
	viper.SetDefault("log_level", "warn")

	askCmd.Flags().StringVarP(&topicFlag, "topic", "t", "", "Override topic classification (see 'sopctl topics')")
	askCmd.Flags().IntVarP(&topKFlag, "top-k", "k", 0, "Number of SOP excerpts to ground on")
	selftestCmd.Flags().BoolVar(&bypassFlag, "bypass-guard", false, "Force probes past the input guard (requires server-side opt-in)")
	populateCmd.Flags().StringVar(&docTopic, "topic", "", "Topic for every chunk of the ingested documents")
	populateCmd.Flags().StringVar(&docRiskTier, "risk-tier", "LOW", "Risk tier for every chunk (LOW, MEDIUM, CRITICAL)")

	rootCmd.AddCommand(askCmd, topicsCmd, selftestCmd, healthCmd, populateCmd)
}

func main() {
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(viper.GetString("log_level")),
		Service: "sopctl",
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func orchestratorURL() string {
	return strings.TrimRight(viper.GetString("orchestrator_url"), "/")
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := httpClient.Post(orchestratorURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("reach orchestrator at %s: %w", orchestratorURL(), err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	logger.Info("sending question", "topic_override", topicFlag)

	var resp datatypes.AskResponse
	err := postJSON("/v1/sop/ask", datatypes.AskRequest{
		Question: question,
		Topic:    topicFlag,
		TopK:     topKFlag,
	}, &resp)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\nAnswer:\n%s\n", resp.Answer)
	if resp.Grounded {
		fmt.Println("\nCited SOP excerpts:")
		for i, c := range resp.Citations {
			fmt.Printf("%d. %s (%s, chunk %d)\n", i+1, c.Tag, c.DocName, c.ChunkID)
		}
	} else {
		fmt.Printf("\n(Not grounded: %s)\n", resp.Policy.Reason)
		if len(resp.RephraseSuggestions) > 0 {
			fmt.Println("\nTry instead:")
			for _, s := range resp.RephraseSuggestions {
				fmt.Printf("  - %s\n", s)
			}
		}
	}
	fmt.Printf("\n[topic=%s tier=%s mode=%s latency=%dms]\n",
		resp.Policy.Topic, resp.Policy.RiskTier, resp.Policy.Mode, resp.LatencyMs)
}

func runTopicsCommand(cmd *cobra.Command, args []string) {
	var body struct {
		Topics []datatypes.TopicInfo `json:"topics"`
	}
	resp, err := httpClient.Get(orchestratorURL() + "/v1/sop/topics")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("Error decoding topics: %v", err)
	}

	fmt.Println("Configured SOP topics (priority order):")
	for _, t := range body.Topics {
		fmt.Printf("  %-22s %s\n", t.Topic, t.Label)
		if t.TemplateQuestion != "" {
			fmt.Printf("  %-22s e.g. %q\n", "", t.TemplateQuestion)
		}
	}
}

func runSelfTestCommand(cmd *cobra.Command, args []string) {
	path := "/v1/sop/selftest"
	if bypassFlag {
		path += "?bypass_guard=true"
	}

	var report struct {
		Passed  int `json:"passed"`
		Total   int `json:"total"`
		Results []struct {
			Probe      string `json:"probe"`
			Evaluation struct {
				Pass   bool   `json:"pass"`
				Reason string `json:"reason"`
			} `json:"evaluation"`
		} `json:"results"`
	}
	resp, err := httpClient.Post(orchestratorURL()+path, "application/json", nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		log.Fatalf("Error decoding self-test report: %v", err)
	}

	fmt.Printf("Self-test: %d/%d probes passed\n", report.Passed, report.Total)
	for _, r := range report.Results {
		status := "PASS"
		if !r.Evaluation.Pass {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s\n", status, r.Evaluation.Reason)
	}
	if report.Passed < report.Total {
		os.Exit(1)
	}
}

func runPopulateCommand(cmd *cobra.Command, args []string) {
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Error reading %s: %v", path, err)
		}
		base := filepath.Base(path)
		docID := strings.TrimSuffix(base, filepath.Ext(base))

		var result struct {
			ChunksProcessed int `json:"chunks_processed"`
		}
		err = postJSON("/v1/sop/documents", map[string]any{
			"content":   string(content),
			"doc_id":    docID,
			"doc_name":  base,
			"topic":     docTopic,
			"risk_tier": docRiskTier,
		}, &result)
		if err != nil {
			log.Fatalf("Error ingesting %s: %v", path, err)
		}
		fmt.Printf("Ingested %s as %s (%d chunks)\n", path, docID, result.ChunksProcessed)
	}
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	resp, err := httpClient.Get(orchestratorURL() + "/health")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(raw)))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
