// slotsearch ranks meeting slots offline from a YAML busy file, using the same engine as
// the API.
//
//	slotsearch --busy busy.yaml --email alice@example.com --email bob@example.com \
//	    --from 2025-01-06T09:00:00+09:00 --to 2025-01-10T18:00:00+09:00 --duration 60 \
//	    --pattern weekly:tue,thu:13:00-15:00
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/calendar"
	"github.com/kiyo123456/Tatemoku-management/internal/logging"
	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	busyPath        string
	emails          []string
	from, to        string
	duration        int
	top             int
	timezone        string
	minParticipants int
	patterns        []string
	jsonOutput      bool
	logLevel        string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flags := pflag.NewFlagSet("slotsearch", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.busyPath, "busy", "", "YAML busy file (required)")
	flags.StringSliceVar(&opts.emails, "email", nil, "participant contact key; repeat or comma separate")
	flags.StringVar(&opts.from, "from", "", "window start, RFC 3339")
	flags.StringVar(&opts.to, "to", "", "window end, RFC 3339")
	flags.IntVar(&opts.duration, "duration", 60, "meeting length in minutes")
	flags.IntVar(&opts.top, "top", 5, "number of slots to print")
	flags.StringVar(&opts.timezone, "timezone", "Asia/Tokyo", "timezone of the business band")
	flags.IntVar(&opts.minParticipants, "min-participants", 2, "minimum free participants per slot")
	flags.StringArrayVar(&opts.patterns, "pattern", nil, "preferred pattern FREQ:DAYS:HH:MM-HH:MM, e.g. weekly:tue:13:00-15:00")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of a table")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if opts.busyPath == "" {
		return errors.New("--busy is required")
	}

	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("invalid --timezone: %w", err)
	}
	provider, err := calendar.LoadStaticProviderFile(opts.busyPath)
	if err != nil {
		return err
	}

	params := application.FindSlotsParams{
		ParticipantKeys: opts.emails,
		DurationMinutes: opts.duration,
	}
	if params.WindowStart, err = parseTime("--from", opts.from); err != nil {
		return err
	}
	if params.WindowEnd, err = parseTime("--to", opts.to); err != nil {
		return err
	}
	for _, raw := range opts.patterns {
		pattern, err := parsePattern(raw)
		if err != nil {
			return fmt.Errorf("invalid --pattern %q: %w", raw, err)
		}
		params.PreferredPatterns = append(params.PreferredPatterns, pattern)
	}

	policy := scheduler.DefaultPolicy()
	policy.Location = loc
	policy.MinParticipants = opts.minParticipants

	logger := logging.New(stderr, opts.logLevel)
	service := application.NewAvailabilityServiceWithLogger(scheduler.NewEngine(provider, policy), recurrence.NewEngine(loc), logger)
	result, err := service.FindSlots(ctx, params)
	if err != nil {
		return describe(err)
	}

	best := result.Slots
	if opts.top > 0 && len(best) > opts.top {
		best = best[:opts.top]
	}
	if opts.jsonOutput {
		return writeJSON(stdout, result.Total, best)
	}
	return writeTable(stdout, result.Total, best, loc)
}

func parseTime(flag, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("%s is required", flag)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return t, nil
}

// parsePattern reads FREQ:DAYS:HH:MM-HH:MM where DAYS is a comma separated list that may be
// empty for daily patterns.
func parsePattern(raw string) (recurrence.Pattern, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return recurrence.Pattern{}, errors.New("expected FREQ:DAYS:HH:MM-HH:MM")
	}
	pattern := recurrence.Pattern{Frequency: recurrence.ParseFrequency(strings.ToLower(parts[0]))}
	if pattern.Frequency == recurrence.FrequencyUnspecified {
		return pattern, recurrence.ErrInvalidFrequency
	}
	for _, name := range strings.Split(parts[1], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		day, err := parseWeekday(name)
		if err != nil {
			return pattern, err
		}
		pattern.Weekdays = append(pattern.Weekdays, day)
	}

	from, to, ok := strings.Cut(parts[2], "-")
	if !ok {
		return pattern, errors.New("band must be HH:MM-HH:MM")
	}
	var err error
	if pattern.From, err = scheduler.ParseClockTime(from); err != nil {
		return pattern, err
	}
	if pattern.To, err = scheduler.ParseClockTime(to); err != nil {
		return pattern, err
	}
	return pattern, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	lower := strings.ToLower(name)
	for day := time.Sunday; day <= time.Saturday; day++ {
		full := strings.ToLower(day.String())
		if lower == full || lower == full[:3] {
			return day, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// describe flattens validation field errors into one line.
func describe(err error) error {
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		return err
	}
	parts := make([]string, 0, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		parts = append(parts, field+": "+msg)
	}
	slices.Sort(parts)
	return fmt.Errorf("invalid search: %s", strings.Join(parts, "; "))
}

type jsonSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available []string  `json:"availableMembers"`
	Score     int       `json:"score"`
}

func writeJSON(w io.Writer, total int, slots []scheduler.CandidateSlot) error {
	out := struct {
		Total int        `json:"totalSlotsFound"`
		Slots []jsonSlot `json:"bestSlots"`
	}{Total: total, Slots: make([]jsonSlot, 0, len(slots))}
	for _, slot := range slots {
		out.Slots = append(out.Slots, jsonSlot{Start: slot.Start, End: slot.End, Available: slot.Available, Score: slot.Score})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTable(w io.Writer, total int, slots []scheduler.CandidateSlot, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RANK\tSTART\tEND\tSCORE\tAVAILABLE\n")
	for i, slot := range slots {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			i+1,
			slot.Start.In(loc).Format("2006-01-02 Mon 15:04"),
			slot.End.In(loc).Format("15:04"),
			slot.Score,
			strings.Join(slot.Available, ", "),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d candidate slots\n", len(slots), total)
	return err
}
