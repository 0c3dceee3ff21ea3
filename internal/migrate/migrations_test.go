package migrate

import (
	"path/filepath"
	"testing"

	"courierline/internal/db"
)

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: db.DialectSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn, db.DialectSQLite); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	v, err := Version(conn)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("expected schema version 2, got %d", v)
	}
}

func TestHistoryTablesRejectUpdates(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: db.DialectSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, db.DialectSQLite); err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`INSERT INTO branches(id,name,created_at) VALUES (1,'b','2024-01-01T00:00:00Z')`,
		`INSERT INTO users(id,branch_id,name,email,password_hash,role,status,created_at) VALUES (1,1,'a','a@x','h','branch_admin','active','2024-01-01T00:00:00Z')`,
		`INSERT INTO products(id,branch_id,name,quantity,status,created_at,updated_at) VALUES (1,1,'p',1,'available','t','t')`,
		`INSERT INTO delivery_tasks(id,branch_id,product_id,priority,status,created_by,created_at,updated_at) VALUES (1,1,1,'low','assigned',1,'t','t')`,
		`INSERT INTO task_history(task_id,status,created_by,created_at) VALUES (1,'assigned',1,'t')`,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	if _, err := conn.Exec(`UPDATE task_history SET status='completed'`); err == nil {
		t.Fatalf("expected update on task_history to fail")
	}
	if _, err := conn.Exec(`DELETE FROM task_history`); err == nil {
		t.Fatalf("expected delete on task_history to fail")
	}
}

func TestTaskTargetCheck(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: db.DialectSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, db.DialectSQLite); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO branches(id,name,created_at) VALUES (1,'b','t')`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO users(id,branch_id,name,email,password_hash,role,created_at) VALUES (1,1,'a','a@x','h','branch_admin','t')`); err != nil {
		t.Fatal(err)
	}
	_, err = conn.Exec(`INSERT INTO delivery_tasks(branch_id,priority,status,created_by,created_at,updated_at) VALUES (1,'low','assigned',1,'t','t')`)
	if err == nil {
		t.Fatalf("task without target must be rejected")
	}
}
