package mariadb

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/database/mock"
)

func TestToSubjects(t *testing.T) {
	students := []Student{
		{ID: "S001", Name: "Asha Verma", RollNumber: "Roll-2301105473"},
		{ID: "", Name: "Jiří Novák", RollNumber: ""},
		{ID: "S003", Name: "", RollNumber: "12"},
		{ID: "S001", Name: "Asha Duplicate", RollNumber: ""},
		{ID: "bad id!", Name: "Ravi", RollNumber: ""},
	}

	subjects, rejected := ToSubjects(students)
	if len(subjects) != 2 {
		t.Fatalf("expected 2 subjects, got %d: %+v", len(subjects), subjects)
	}
	if subjects[0].Key != "S001" || subjects[0].Code != "2301105473" {
		t.Errorf("unexpected first subject: %+v", subjects[0])
	}
	if subjects[1].Key != "jiri_novak" || subjects[1].Name != "Jiří Novák" {
		t.Errorf("missing id should derive a key from the name, got %+v", subjects[1])
	}
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejected rows, got %d", len(rejected))
	}
	for _, r := range rejected {
		if !errors.Is(r.Err, database.ErrInvalidSubject) {
			t.Errorf("rejection of %+v should be ErrInvalidSubject: %v", r.Student, r.Err)
		}
	}
}

func TestImport(t *testing.T) {
	store := mock.NewMockSubjects()
	subjects := make([]database.Subject, 0, 5)
	for _, key := range []string{"a1", "a2", "a3", "a4", "a5"} {
		s, err := database.NewSubject(key, "Student "+key, "")
		if err != nil {
			t.Fatal(err)
		}
		subjects = append(subjects, s)
	}

	var calls []int
	n, err := Import(context.Background(), subjects, store, 2, func(done int) { calls = append(calls, done) })
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("written = %d, want 5", n)
	}
	if len(calls) != 3 || calls[2] != 5 {
		t.Errorf("progress calls = %v", calls)
	}
	if count, _ := store.CountSubjects(context.Background()); count != 5 {
		t.Errorf("store holds %d subjects", count)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Import(ctx, subjects, store, 2, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTableName(t *testing.T) {
	for _, ok := range []string{"students", "school.students", "_roster2"} {
		if !tableRe.MatchString(ok) {
			t.Errorf("%q should be accepted", ok)
		}
	}
	for _, bad := range []string{"", "students; DROP TABLE x", "a.b.c", "1abc", "stu-dents"} {
		if tableRe.MatchString(bad) {
			t.Errorf("%q should be rejected", bad)
		}
	}
	if got := quoteIdent("school.students"); got != "`school`.`students`" {
		t.Errorf("quoteIdent = %s", got)
	}
}
