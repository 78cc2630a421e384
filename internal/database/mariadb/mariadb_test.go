//go:build integration

package mariadb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "test",
			"MARIADB_DATABASE":      "school",
		},
		WaitingFor: wait.ForLog("ready for connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	pool, err := NewPool(ctx, fmt.Sprintf("root:test@tcp(%s:%s)/school", host, port.Port()))
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func TestListStudents(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	ctx := context.Background()

	for _, stmt := range []string{
		`CREATE TABLE students (
			student_id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			roll_number VARCHAR(32) UNIQUE,
			registered_date DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO students (student_id, name, roll_number) VALUES
			('S002', 'Ravi Kumar', NULL),
			('S001', 'Asha Verma', 'Roll-2301105473')`,
	} {
		if _, err := pool.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	students, err := pool.ListStudents(ctx, "")
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(students))
	}
	if students[0].ID != "S001" || students[0].RollNumber != "Roll-2301105473" {
		t.Errorf("unexpected first row: %+v", students[0])
	}
	if students[1].RollNumber != "" {
		t.Errorf("NULL roll number should read as empty, got %q", students[1].RollNumber)
	}

	subjects, rejected := ToSubjects(students)
	if len(subjects) != 2 || len(rejected) != 0 {
		t.Errorf("subjects=%d rejected=%d", len(subjects), len(rejected))
	}

	if _, err := pool.ListStudents(ctx, "school.missing"); err == nil {
		t.Error("expected error for a missing table")
	}
	if _, err := pool.ListStudents(ctx, "students; DROP TABLE students"); err == nil {
		t.Error("expected error for an invalid table name")
	}
}
