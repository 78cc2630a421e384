package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect and record attendance",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceList,
}

var attendanceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show present/absent counts of a day",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceSummary,
}

var attendanceOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List sessions that are still open",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceOpen,
}

var attendanceRecordCmd = &cobra.Command{
	Use:   "record <subject-key>",
	Short: "Record a completed session manually",
	Long: `Record a completed session manually, for example when the camera was down.

Times are given as "YYYY-MM-DD HH:MM" in ATTENDANCE_TIMEZONE or as RFC 3339.
The verdict uses the same threshold as the camera flows.

Example:
  presence-gate attendance record S001 --entry "2026-03-02 09:00" --exit "2026-03-02 10:35"`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceRecord,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceListCmd, attendanceSummaryCmd, attendanceOpenCmd, attendanceRecordCmd)

	attendanceListCmd.Flags().String("subject", "", "Only this subject")
	attendanceListCmd.Flags().String("date", "", "Only this date (YYYY-MM-DD)")
	attendanceListCmd.Flags().String("category", "", "Only this category")
	attendanceListCmd.Flags().String("verdict", "", "Only PRESENT or ABSENT")
	attendanceListCmd.Flags().Int("limit", database.DefaultPageLimit, "Records per page")
	attendanceListCmd.Flags().Int("offset", 0, "Records to skip")
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")

	attendanceSummaryCmd.Flags().String("date", "", "Date (YYYY-MM-DD), defaults to today")
	attendanceSummaryCmd.Flags().String("category", "", "Only this category")
	attendanceSummaryCmd.Flags().Bool("json", false, "Output as JSON")

	attendanceOpenCmd.Flags().String("date", "", "Only this date (YYYY-MM-DD)")
	attendanceOpenCmd.Flags().String("category", "", "Only this category")

	attendanceRecordCmd.Flags().String("entry", "", "Entry time (required)")
	attendanceRecordCmd.Flags().String("exit", "", "Exit time (required)")
	attendanceRecordCmd.Flags().String("category", "", "Attendance category (defaults to the active category)")
}

// parseDateFlag returns nil for an empty value.
func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	d := database.CivilDate(t)
	return &d, nil
}

// parseTimeFlag accepts RFC 3339 or a wall clock time in loc.
func parseTimeFlag(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("time is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected \"YYYY-MM-DD HH:MM\" or RFC 3339", value)
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	filter := database.AttendanceFilter{
		SubjectKey: mustGetString(cmd, "subject"),
		Category:   mustGetString(cmd, "category"),
		Limit:      mustGetInt(cmd, "limit"),
		Offset:     mustGetInt(cmd, "offset"),
	}
	date, err := parseDateFlag(mustGetString(cmd, "date"))
	if err != nil {
		return err
	}
	filter.Date = date
	if v := mustGetString(cmd, "verdict"); v != "" {
		if filter.Verdict, err = attendance.ParseVerdict(v); err != nil {
			return err
		}
	}

	ctx := context.Background()
	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, total, err := st.ledger.ListAttendance(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(map[string]any{"records": records, "total": total})
	}
	if len(records) == 0 {
		fmt.Println("No attendance records found.")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Scope.DateString(), r.Scope.SubjectKey, r.Scope.Category,
			r.EntryTime.In(loc).Format("15:04"), r.ExitTime.In(loc).Format("15:04"),
			strconv.Itoa(r.DurationMinutes), string(r.Verdict),
		})
	}
	fmt.Println(renderTable(
		[]string{"Date", "Subject", "Category", "Entry", "Exit", "Minutes", "Verdict"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Printf("Showing %d of %d records\n", len(records), total)
	return nil
}

func runAttendanceSummary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	date, err := parseDateFlag(mustGetString(cmd, "date"))
	if err != nil {
		return err
	}
	if date == nil {
		today := database.CivilDate(time.Now().In(loc))
		date = &today
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.ledger.Summarize(ctx, *date, mustGetString(cmd, "category"))
	if err != nil {
		return fmt.Errorf("failed to summarize attendance: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(summary)
	}

	category := summary.Category
	if category == "" {
		category = "all categories"
	}
	fmt.Printf("Attendance on %s (%s)\n", summary.Date.Format(time.DateOnly), category)
	fmt.Println(renderTable(
		[]string{"Total", "Present", "Absent", "Rate"},
		[][]string{{
			strconv.Itoa(summary.Total), strconv.Itoa(summary.Present), strconv.Itoa(summary.Absent),
			fmt.Sprintf("%.1f%%", summary.Rate),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func runAttendanceOpen(cmd *cobra.Command, args []string) error {
	date, err := parseDateFlag(mustGetString(cmd, "date"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ledger.ListOpenSessions(ctx, database.SessionFilter{
		Date:     date,
		Category: mustGetString(cmd, "category"),
	})
	if err != nil {
		return fmt.Errorf("failed to list open sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No open sessions.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.Scope.DateString(), s.Scope.SubjectKey, s.Scope.Category,
			s.EntryTime.In(loc).Format("15:04"), s.ID.String(),
		})
	}
	fmt.Println(renderTable([]string{"Date", "Subject", "Category", "Entry", "Session"}, rows, nil))
	return nil
}

func runAttendanceRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAttendance(); err != nil {
		return err
	}
	loc, _ := cfg.Location()

	entry, err := parseTimeFlag(mustGetString(cmd, "entry"), loc)
	if err != nil {
		return fmt.Errorf("--entry: %w", err)
	}
	exit, err := parseTimeFlag(mustGetString(cmd, "exit"), loc)
	if err != nil {
		return fmt.Errorf("--exit: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Manual records need no recognizer.
	service, err := presence.NewService(presence.Deps{
		Ledger:   st.ledger,
		Subjects: st.subjects,
		Settings: st.settings,
		Logger:   logger,
	}, presence.Config{
		MinimumMinutes:  cfg.Attendance.MinimumMinutes,
		CoolDown:        cfg.Attendance.CoolDown,
		Location:        loc,
		DefaultCategory: cfg.Categories.Default,
		Categories:      cfg.Categories.Categories,
		WriteTimeout:    cfg.Database.WriteTimeout,
	})
	if err != nil {
		return err
	}

	record, err := service.RecordAttendance(ctx, args[0], mustGetString(cmd, "category"), entry, exit)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %s on %s (%s): %s, %s\n",
		record.Scope.SubjectKey, record.Scope.DateString(), record.Scope.Category,
		record.Verdict, attendance.FormatDuration(record.DurationMinutes))
	return nil
}
