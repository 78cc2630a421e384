package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/database/mariadb"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage the subject registry",
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects",
	Args:  cobra.NoArgs,
	RunE:  runSubjectsList,
}

var subjectsAddCmd = &cobra.Command{
	Use:   "add <key> <name>",
	Short: "Register a subject",
	Long: `Register a subject under a stable key (usually the student id).

The roll number is normalized: separators and prefixes such as "Roll No" or
"ID" are removed, so "roll-23-0110" is stored as "230110".`,
	Args: cobra.ExactArgs(2),
	RunE: runSubjectsAdd,
}

var subjectsDisableCmd = &cobra.Command{
	Use:   "disable <key>",
	Short: "Disable a subject so the gate no longer admits it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubjectsDisable,
}

var subjectsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the student roster from MariaDB/MySQL",
	Long: `Import subjects from the student information system.

Reads student_id, name and roll_number from the roster table of the database
in ROSTER_DATABASE_URL (a MySQL DSN such as user:pass@tcp(host:3306)/school).
Existing subjects get their name and roll number refreshed; rows that fail
validation are reported and skipped.

Examples:
  # Preview the import
  presence-gate subjects import --dry-run

  # Import from a custom table
  presence-gate subjects import --table sis.enrolled_students`,
	Args: cobra.NoArgs,
	RunE: runSubjectsImport,
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	subjectsCmd.AddCommand(subjectsListCmd, subjectsAddCmd, subjectsDisableCmd, subjectsImportCmd)

	subjectsListCmd.Flags().Bool("all", false, "Include disabled subjects")
	subjectsListCmd.Flags().Bool("json", false, "Output as JSON")

	subjectsAddCmd.Flags().String("code", "", "Roll number")

	subjectsImportCmd.Flags().String("table", mariadb.DefaultTable, "Roster table")
	subjectsImportCmd.Flags().Int("batch", 200, "Subjects written per transaction")
	subjectsImportCmd.Flags().Bool("dry-run", false, "Validate the roster without writing")
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	subjects, err := st.subjects.ListSubjects(ctx, mustGetBool(cmd, "all"))
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(subjects)
	}
	if len(subjects) == 0 {
		fmt.Println("No subjects registered.")
		return nil
	}

	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = s.Key
	}
	faces, err := st.faces.FacesBySubjects(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to count faces: %w", err)
	}

	rows := make([][]string, 0, len(subjects))
	for _, s := range subjects {
		status := "active"
		if !s.Active {
			status = "disabled"
		}
		rows = append(rows, []string{
			s.Key, s.Name, s.Code, strconv.Itoa(faces[s.Key]), status,
			s.RegisteredAt.Format("2006-01-02"),
		})
	}
	fmt.Println(renderTable(
		[]string{"Key", "Name", "Code", "Faces", "Status", "Registered"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	fmt.Printf("%d subjects\n", len(subjects))
	return nil
}

func runSubjectsAdd(cmd *cobra.Command, args []string) error {
	subject, err := database.NewSubject(args[0], args[1], mustGetString(cmd, "code"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	created, err := st.subjects.CreateSubject(ctx, subject)
	if err != nil {
		return fmt.Errorf("failed to register subject: %w", err)
	}
	fmt.Printf("Registered %s (%s)\n", created.Name, created.Key)
	return nil
}

func runSubjectsDisable(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.subjects.DisableSubject(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to disable subject: %w", err)
	}
	fmt.Printf("Disabled %s\n", args[0])
	return nil
}

func runSubjectsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	if cfg.Roster.DatabaseURL == "" {
		return errors.New("ROSTER_DATABASE_URL environment variable is required")
	}
	dryRun := mustGetBool(cmd, "dry-run")

	fmt.Println("Connecting to roster database...")
	roster, err := mariadb.NewPool(ctx, cfg.Roster.DatabaseURL)
	if err != nil {
		return err
	}
	defer roster.Close()

	students, err := roster.ListStudents(ctx, mustGetString(cmd, "table"))
	if err != nil {
		return err
	}
	subjects, rejected := mariadb.ToSubjects(students)
	for _, r := range rejected {
		fmt.Printf("  skipped %q (%s): %v\n", r.Student.ID, r.Student.Name, r.Err)
	}
	if len(subjects) == 0 {
		return mariadb.ErrEmptyRoster
	}
	fmt.Printf("Roster has %d valid students, %d skipped\n", len(subjects), len(rejected))
	if dryRun {
		fmt.Println("DRY RUN - no changes written")
		return nil
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bar := progressbar.NewOptions(len(subjects),
		progressbar.OptionSetDescription("Importing subjects"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("subjects"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	written, err := mariadb.Import(ctx, subjects, st.subjects, mustGetInt(cmd, "batch"), func(done int) {
		_ = bar.Set(done)
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d subjects\n", written)
	return nil
}
