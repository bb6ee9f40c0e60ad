package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dermadx/internal/api"
	"github.com/kalambet/dermadx/internal/config"
	"github.com/kalambet/dermadx/internal/diagnosis"
	"github.com/kalambet/dermadx/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- diagnose ---

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run a skin lesion diagnosis",
}

var diagnoseTextCmd = &cobra.Command{
	Use:   "text <description>",
	Short: "Diagnose from a written lesion description",
	Long: `Diagnose from a written lesion description.

Examples:
  dermadx diagnose text "round brown patch on the forearm, 6mm, raised edge"
  dermadx diagnose text "itchy red scaling" --info "appeared two weeks ago"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, _ := cmd.Flags().GetString("info")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rec, err := diagnoseText(cmd.Context(), client, strings.Join(args, " "), info)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, rec)
		}
		writeRecord(os.Stdout, rec)
		return nil
	},
}

func diagnoseText(ctx context.Context, client *apiClient, description, info string) (diagnosis.Record, error) {
	resp, err := client.post(ctx, "/diagnose/skin-lesion", api.TextDiagnosisRequest{
		LesionDescription: description,
		AdditionalInfo:    info,
	})
	if err != nil {
		return diagnosis.Record{}, err
	}
	var rec diagnosis.Record
	if err := decodeJSON(resp, &rec); err != nil {
		return diagnosis.Record{}, err
	}
	return rec, nil
}

var diagnoseImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Diagnose from a lesion photo (JPEG, PNG or WebP)",
	Long: `Diagnose from a lesion photo.

The questionnaire is passed through to the model as-is. Prefix a path
with @ to read it from a file.

Examples:
  dermadx diagnose image ./lesion.jpg
  dermadx diagnose image ./lesion.png --questionnaire @answers.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		questionnaire, _ := cmd.Flags().GetString("questionnaire")
		asJSON, _ := cmd.Flags().GetBool("json")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		questionnaire, err = readArgOrFile(questionnaire)
		if err != nil {
			return fmt.Errorf("reading questionnaire: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.upload(cmd.Context(), "/diagnose/skin-lesion-image", imageUpload{
			Filename:      args[0],
			ContentType:   contentTypeFor(args[0], data),
			Data:          data,
			Questionnaire: questionnaire,
		})
		if err != nil {
			return err
		}
		var rec diagnosis.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, rec)
		}
		writeRecord(os.Stdout, rec)
		return nil
	},
}

// readArgOrFile returns v, or the contents of the file it names when v
// starts with "@".
func readArgOrFile(v string) (string, error) {
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func init() {
	diagnoseTextCmd.Flags().String("info", "", "additional patient information")
	diagnoseTextCmd.Flags().Bool("json", false, "print the raw record as JSON")
	diagnoseImageCmd.Flags().String("questionnaire", "", "questionnaire JSON, or @file")
	diagnoseImageCmd.Flags().Bool("json", false, "print the raw record as JSON")
	diagnoseCmd.AddCommand(diagnoseTextCmd)
	diagnoseCmd.AddCommand(diagnoseImageCmd)
}

// --- refine ---

var refineCmd = &cobra.Command{
	Use:   "refine [text]",
	Short: "Turn a symptom description into a tip for the doctor visit",
	Long: `Turn a patient's own symptom description into a one-line tip on
what to stress when talking to a doctor. Nothing is stored.

Examples:
  dermadx refine "허벅지 안쪽이 가렵고 긁으니 따가워요"
  dermadx refine "itchy hands after new detergent" --language en`,
	RunE: func(cmd *cobra.Command, args []string) error {
		language, _ := cmd.Flags().GetString("language")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ref, err := refineUtterance(cmd.Context(), client, strings.Join(args, " "), language)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, ref)
		}
		fmt.Println(ref.RefinedText)
		return nil
	},
}

func refineUtterance(ctx context.Context, client *apiClient, text, language string) (diagnosis.Refinement, error) {
	resp, err := client.post(ctx, "/utterance/refine", api.RefineRequest{Text: text, Language: language})
	if err != nil {
		return diagnosis.Refinement{}, err
	}
	var ref diagnosis.Refinement
	if err := decodeJSON(resp, &ref); err != nil {
		return diagnosis.Refinement{}, err
	}
	return ref, nil
}

func init() {
	refineCmd.Flags().String("language", "", "reply language (default ko)")
	refineCmd.Flags().Bool("json", false, "print the raw refinement as JSON")
}

// --- analyses ---

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "Browse and manage stored analyses",
}

var analysesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/analyses?page=%d&page_size=%d", page, pageSize))
		if err != nil {
			return err
		}
		var list api.AnalysisList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Analyses) == 0 {
			fmt.Println("No analyses found.")
			return nil
		}
		writeAnalysisLines(os.Stdout, list.Analyses)
		fmt.Printf("\npage %d, %d of %d total\n", list.Page, len(list.Analyses), list.TotalCount)
		return nil
	},
}

func writeAnalysisLines(w io.Writer, recs []diagnosis.Record) {
	for _, rec := range recs {
		fmt.Fprintf(w, "%s  %s  %-6s %s\n",
			colorize(colorCyan, shortID(rec.ID)),
			rec.CreatedAt.Format("2006-01-02 15:04"),
			formatConfidence(rec.ConfidenceScore),
			truncate(rec.Diagnosis, 80),
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var analysesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/analyses/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var rec diagnosis.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, rec)
		}
		writeRecord(os.Stdout, rec)
		return nil
	},
}

var analysesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search analyses by diagnosis, description or summary",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		recs, err := searchAnalyses(cmd.Context(), client, strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		writeAnalysisLines(os.Stdout, recs)
		return nil
	},
}

func searchAnalyses(ctx context.Context, client *apiClient, query string, limit int) ([]diagnosis.Record, error) {
	path := fmt.Sprintf("/analyses/search?q=%s&limit=%d", url.QueryEscape(query), limit)
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var recs []diagnosis.Record
	if err := decodeJSON(resp, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

var analysesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Correct the diagnosis, summary or notes of an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u diagnosis.Update
		for _, f := range []struct {
			name string
			dst  **string
		}{
			{"diagnosis", &u.Diagnosis},
			{"summary", &u.Summary},
			{"notes", &u.Notes},
		} {
			if cmd.Flags().Changed(f.name) {
				v, _ := cmd.Flags().GetString(f.name)
				*f.dst = &v
			}
		}
		if u.Diagnosis == nil && u.Summary == nil && u.Notes == nil {
			return fmt.Errorf("one of --diagnosis, --summary, or --notes is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/analyses/"+url.PathEscape(args[0]), u)
		if err != nil {
			return err
		}
		var rec diagnosis.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSuccess("Updated %s", rec.ID)
		return nil
	},
}

var analysesDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete analyses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		failures := deleteAnalyses(cmd.Context(), client, args)
		if failures > 0 {
			return fmt.Errorf("%d of %d deletions failed", failures, len(args))
		}
		return nil
	},
}

// deleteAnalyses deletes each id in turn and reports how many failed.
func deleteAnalyses(ctx context.Context, client *apiClient, ids []string) int {
	failures := 0
	for _, id := range ids {
		resp, err := client.delete(ctx, "/analyses/"+url.PathEscape(id))
		if err != nil {
			printError("%s: %v", id, err)
			failures++
			continue
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			printError("%s: %v", id, err)
			failures++
			continue
		}
		printSuccess("Deleted %s", id)
	}
	return failures
}

var analysesNotificationsCmd = &cobra.Command{
	Use:   "notifications <id>",
	Short: "Show downstream delivery outcomes for an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/analyses/"+url.PathEscape(args[0])+"/notifications")
		if err != nil {
			return err
		}
		var log []storage.Notification
		if err := decodeJSON(resp, &log); err != nil {
			return err
		}
		if len(log) == 0 {
			fmt.Println("No notifications recorded.")
			return nil
		}
		for _, n := range log {
			status := colorize(colorGreen, n.Status)
			if n.Status != "delivered" {
				status = colorize(colorRed, n.Status)
			}
			fmt.Printf("%-9s %s  %5dms  %s\n", n.Sink, status, n.DurationMs, n.Detail)
		}
		return nil
	},
}

func init() {
	analysesListCmd.Flags().Int("page", 1, "page number")
	analysesListCmd.Flags().Int("page-size", 10, "analyses per page")
	analysesShowCmd.Flags().Bool("json", false, "print the raw record as JSON")
	analysesSearchCmd.Flags().Int("limit", 20, "maximum number of results")
	analysesEditCmd.Flags().String("diagnosis", "", "corrected diagnosis label")
	analysesEditCmd.Flags().String("summary", "", "replacement summary")
	analysesEditCmd.Flags().String("notes", "", "clinician notes")

	analysesCmd.AddCommand(analysesListCmd)
	analysesCmd.AddCommand(analysesShowCmd)
	analysesCmd.AddCommand(analysesSearchCmd)
	analysesCmd.AddCommand(analysesEditCmd)
	analysesCmd.AddCommand(analysesDeleteCmd)
	analysesCmd.AddCommand(analysesNotificationsCmd)
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers, routes and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/providers"
		if probe {
			path += "?probe=1"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var out api.ProvidersResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		writeProviders(os.Stdout, out)
		return nil
	},
}

func writeProviders(w io.Writer, out api.ProvidersResponse) {
	for _, p := range out.Providers {
		caps := make([]string, len(p.Capabilities))
		for i, c := range p.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(w, "%s  %s/%s  [%s]  failures=%d",
			colorize(colorBold, p.ID), p.Kind, p.Model, strings.Join(caps, ","), p.Health.ConsecutiveFailures)
		if p.Probe != "" {
			fmt.Fprintf(w, "  probe=%s", p.Probe)
		}
		fmt.Fprintln(w)
	}
	for _, r := range out.Routes {
		line := fmt.Sprintf("%s -> %s", r.Purpose, r.Default)
		if r.Alternate != "" {
			line += fmt.Sprintf(" (fallback %s)", r.Alternate)
		}
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func init() {
	providersCmd.Flags().Bool("probe", false, "check that each provider is reachable")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
