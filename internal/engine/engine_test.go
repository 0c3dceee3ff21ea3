package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courierline/internal/config"
	"courierline/internal/db"
	"courierline/internal/domain"
	"courierline/internal/engine"
	"courierline/internal/engine/auth"
	"courierline/internal/events"
	"courierline/internal/migrate"
	"courierline/internal/repo"
)

var root = domain.Caller{Role: domain.RoleSuperAdmin}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Super    domain.Caller
	Admin    domain.Caller
	Branch   domain.Branch
	Courier  domain.User
	Courier2 domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.DialectSQLite, Path: filepath.Join(t.TempDir(), "courierline.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	super, created, err := eng.EnsureSuperAdmin(ctx, "Root", "root@example.com", "rootpass1")
	if err != nil || !created {
		t.Fatalf("bootstrap: %v", err)
	}
	superCaller := super.Caller()
	branch, err := eng.CreateBranch(ctx, superCaller, "North")
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	admin, err := eng.CreateUser(ctx, superCaller, engine.CreateUserInput{
		BranchID: branch.ID, Name: "Ada", Email: "ada@example.com", Password: "adapass12", Role: domain.RoleBranchAdmin,
	})
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	env := testEnv{Engine: eng, Ctx: ctx, Super: superCaller, Admin: admin.Caller(), Branch: branch}
	env.Courier2 = env.courier(t, "Bo")
	env.Courier = env.courier(t, "Cy")
	return env
}

func (env testEnv) courier(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.CreateUserInput{
		Name: name, Email: name + "@example.com", Password: "courier123", Role: domain.RoleDeliveryUser,
	})
	if err != nil {
		t.Fatalf("courier %s: %v", name, err)
	}
	return u
}

func (env testEnv) product(t *testing.T, name string) domain.Product {
	t.Helper()
	p, err := env.Engine.CreateProduct(env.Ctx, env.Admin, engine.CreateProductInput{Name: name, Quantity: 1})
	if err != nil {
		t.Fatalf("product %s: %v", name, err)
	}
	return p
}

func (env testEnv) shipment(t *testing.T) domain.Shipment {
	t.Helper()
	s, err := env.Engine.CreateShipment(env.Ctx, env.Admin, engine.CreateShipmentInput{
		SenderName: "Acme", SenderAddress: "1 Main St", RecipientName: "Dee", RecipientAddress: "9 Side St",
	})
	if err != nil {
		t.Fatalf("shipment: %v", err)
	}
	return s
}

func (env testEnv) productStatus(t *testing.T, id int64) domain.ProductStatus {
	t.Helper()
	p, err := env.Engine.Repo.GetProduct(env.Ctx, nil, root, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Status
}

func (env testEnv) historyCount(t *testing.T, taskID int64, status domain.TaskStatus) int {
	t.Helper()
	n, err := env.Engine.Repo.CountTaskHistory(env.Ctx, taskID, status)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func (env testEnv) taskCount(t *testing.T) int {
	t.Helper()
	n, err := env.Engine.Repo.CountTasks(env.Ctx)
	if err != nil {
		t.Fatalf("count tasks: %v", err)
	}
	return n
}

func TestAssignProductScenario(t *testing.T) {
	env := newTestEnv(t)
	if env.Courier.ID != 4 {
		t.Fatalf("fixture drift: courier id %d", env.Courier.ID)
	}
	var p domain.Product
	for i := 1; i <= 7; i++ {
		p = env.product(t, fmt.Sprintf("parcel-%d", i))
	}
	if p.ID != 7 {
		t.Fatalf("fixture drift: product id %d", p.ID)
	}
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{
		DeliveryUserID: 4, ProductID: 7, Priority: domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.ProductID == nil || *task.ProductID != 7 || task.ShipmentID != nil {
		t.Fatalf("task target wrong: %+v", task)
	}
	if *task.DeliveryUserID != 4 || task.Status != domain.TaskAssigned || task.Priority != domain.PriorityHigh {
		t.Fatalf("task fields wrong: %+v", task)
	}
	if got := env.productStatus(t, 7); got != domain.ProductPending {
		t.Fatalf("product status %s, want pending", got)
	}
	if env.taskCount(t) != 1 || env.historyCount(t, task.ID, domain.TaskAssigned) != 1 {
		t.Fatalf("expected one task with one assigned history row")
	}
}

func TestCompleteProductScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("default priority %s", task.Priority)
	}

	_, err = env.Engine.TransitionTask(env.Ctx, env.Admin, engine.TransitionInput{TaskID: task.ID, Status: domain.TaskCompleted})
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("assigned -> completed must be rejected, got %v", err)
	}

	courier := env.Courier.Caller()
	if _, err := env.Engine.TransitionTask(env.Ctx, courier, engine.TransitionInput{TaskID: task.ID, Status: domain.TaskInProgress}); err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := env.Engine.TransitionTask(env.Ctx, courier, engine.TransitionInput{TaskID: task.ID, Status: domain.TaskCompleted, Notes: "left at door"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || *done.CompletedAt != "2024-01-01T09:00:00Z" {
		t.Fatalf("completed_at not set: %+v", done.CompletedAt)
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, nil, root, task.ID)
	if err != nil || stored.CompletedAt == nil || stored.Status != domain.TaskCompleted {
		t.Fatalf("stored task: %+v %v", stored, err)
	}
	if got := env.productStatus(t, p.ID); got != domain.ProductDelivered {
		t.Fatalf("product status %s, want delivered", got)
	}
	if env.historyCount(t, task.ID, domain.TaskCompleted) != 1 {
		t.Fatalf("expected exactly one completed history row")
	}
	hist, err := env.Engine.Repo.ListTaskHistory(env.Ctx, env.Admin, task.ID)
	if err != nil || len(hist) != 3 {
		t.Fatalf("history: %d rows, %v", len(hist), err)
	}

	_, err = env.Engine.TransitionTask(env.Ctx, env.Admin, engine.TransitionInput{TaskID: task.ID, Status: domain.TaskCancelled})
	if !errors.As(err, &te) {
		t.Fatalf("completed is terminal, got %v", err)
	}
}

func TestAssignRequiresExactlyOneTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, Priority: domain.PriorityHigh})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.taskCount(t) != 0 {
		t.Fatalf("no rows may be written on validation failure")
	}

	p := env.product(t, "parcel")
	s := env.shipment(t)
	_, err = env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID, ShipmentID: s.ID})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for two targets, got %v", err)
	}
	if env.productStatus(t, p.ID) != domain.ProductAvailable || env.taskCount(t) != 0 {
		t.Fatalf("nothing may change on validation failure")
	}
}

func TestAssignCollectsEveryProblem(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{Priority: "asap", ScheduledDate: "tomorrow"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Problems) != 4 {
		t.Fatalf("expected 4 problems, got %v", ve.Problems)
	}
}

func TestAssignRejectsBadCourier(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	var ve engine.ValidationError

	_, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Admin.UserID, ProductID: p.ID})
	if !errors.As(err, &ve) {
		t.Fatalf("admins are not couriers, got %v", err)
	}
	if _, err := env.Engine.SetUserStatus(env.Ctx, env.Admin, env.Courier.ID, domain.UserInactive); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID})
	if !errors.As(err, &ve) {
		t.Fatalf("inactive couriers cannot be assigned, got %v", err)
	}
	_, err = env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: 999, ProductID: p.ID})
	if !errors.As(err, &ve) {
		t.Fatalf("unknown courier, got %v", err)
	}
}

func TestBatchAssignCreatesOneTaskPerItem(t *testing.T) {
	env := newTestEnv(t)
	var productIDs []int64
	for i := 0; i < 3; i++ {
		productIDs = append(productIDs, env.product(t, fmt.Sprintf("p%d", i)).ID)
	}
	s1, s2 := env.shipment(t), env.shipment(t)
	tasks, err := env.Engine.BatchAssign(env.Ctx, env.Admin, engine.BatchAssignInput{
		DeliveryUserID: env.Courier.ID,
		ProductIDs:     append(productIDs, productIDs[0]),
		ShipmentIDs:    []int64{s1.ID, s2.ID},
		Priority:       domain.PriorityUrgent,
		ScheduledDate:  "2024-01-02",
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(tasks) != 5 || env.taskCount(t) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if (task.ProductID == nil) == (task.ShipmentID == nil) {
			t.Fatalf("task %d must have exactly one target", task.ID)
		}
		if env.historyCount(t, task.ID, domain.TaskAssigned) != 1 {
			t.Fatalf("task %d missing history", task.ID)
		}
	}
	for _, id := range productIDs {
		if env.productStatus(t, id) != domain.ProductPending {
			t.Fatalf("product %d not pending", id)
		}
	}
	s, trail, err := env.Engine.Tracking(env.Ctx, env.Admin, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != domain.ShipmentInTransit || s.DeliveryUserID == nil || *s.DeliveryUserID != env.Courier.ID {
		t.Fatalf("shipment not dispatched: %+v", s)
	}
	if len(trail) != 2 || trail[1].Status != domain.ShipmentInTransit {
		t.Fatalf("tracking trail: %+v", trail)
	}
}

func TestBatchAssignIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := env.product(t, "a"), env.product(t, "b"), env.product(t, "c")
	if _, err := env.Engine.DB.Exec(fmt.Sprintf(`CREATE TRIGGER fail_third BEFORE INSERT ON delivery_tasks
WHEN NEW.product_id = %d BEGIN SELECT RAISE(ABORT, 'disk full'); END;`, c.ID)); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.BatchAssign(env.Ctx, env.Admin, engine.BatchAssignInput{
		DeliveryUserID: env.Courier.ID, ProductIDs: []int64{a.ID, b.ID, c.ID},
	})
	if err == nil {
		t.Fatalf("expected batch failure")
	}
	if env.taskCount(t) != 0 {
		t.Fatalf("batch must roll back every task")
	}
	for _, id := range []int64{a.ID, b.ID, c.ID} {
		if env.productStatus(t, id) != domain.ProductAvailable {
			t.Fatalf("product %d must stay available after rollback", id)
		}
	}
	var n int
	if err := env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM task_history`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("history rows after rollback: %d %v", n, err)
	}
}

func TestProductCannotBeDoubleBooked(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier2.ID, ProductID: p.ID})
	if !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if env.taskCount(t) != 1 {
		t.Fatalf("second assignment must not create a task")
	}
}

func TestShipmentCannotBeDoubleBooked(t *testing.T) {
	env := newTestEnv(t)
	s := env.shipment(t)
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ShipmentID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateShipmentStatus(env.Ctx, env.Admin, engine.ShipmentStatusInput{ShipmentID: s.ID, Status: domain.ShipmentDelayed}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier2.ID, ShipmentID: s.ID})
	if !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected unavailable while task %d is active, got %v", task.ID, err)
	}
	if env.taskCount(t) != 1 {
		t.Fatalf("second assignment must not create a task")
	}

	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.Repo.DispatchShipment(env.Ctx, tx, env.Branch.ID, s.ID, env.Courier2.ID, "2024-01-01T00:00:00Z")
	tx.Rollback()
	if !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("dispatch of a held shipment must lose, got %v", err)
	}
}

func TestShipmentReassignMovesActiveTask(t *testing.T) {
	env := newTestEnv(t)
	s := env.shipment(t)
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ShipmentID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateShipmentStatus(env.Ctx, env.Admin, engine.ShipmentStatusInput{ShipmentID: s.ID, Status: domain.ShipmentInTransit, DeliveryUserID: env.Courier2.ID}); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, nil, root, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveryUserID == nil || *got.DeliveryUserID != env.Courier2.ID {
		t.Fatalf("task should follow the shipment to courier %d, got %v", env.Courier2.ID, got.DeliveryUserID)
	}
	if _, err := env.Engine.TransitionTask(env.Ctx, env.Courier.Caller(), engine.TransitionInput{TaskID: task.ID, Status: domain.TaskInProgress}); err == nil {
		t.Fatalf("previous courier must no longer reach the task")
	}
	if _, err := env.Engine.TransitionTask(env.Ctx, env.Courier2.Caller(), engine.TransitionInput{TaskID: task.ID, Status: domain.TaskInProgress}); err != nil {
		t.Fatalf("new courier: %v", err)
	}
}

func TestReserveProductGuard(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	reserve := func(branchID int64) error {
		tx, err := env.Engine.DB.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := env.Engine.Repo.ReserveProduct(env.Ctx, tx, branchID, p.ID, "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return tx.Commit()
	}
	if err := reserve(env.Branch.ID + 1); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("reservation from another branch must fail, got %v", err)
	}
	if err := reserve(env.Branch.ID); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if err := reserve(env.Branch.ID); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("second reservation must lose, got %v", err)
	}
}

func TestDeliveryUserScope(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.TransitionTask(env.Ctx, env.Courier2.Caller(), engine.TransitionInput{TaskID: task.ID, Status: domain.TaskInProgress})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("other couriers must not see the task, got %v", err)
	}
	_, err = env.Engine.TransitionTask(env.Ctx, env.Courier.Caller(), engine.TransitionInput{TaskID: task.ID, Status: domain.TaskCancelled})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("couriers cannot cancel, got %v", err)
	}
	_, err = env.Engine.AssignTask(env.Ctx, env.Courier.Caller(), engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID})
	if !errors.As(err, &fe) {
		t.Fatalf("couriers cannot assign, got %v", err)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, env.Courier2.Caller(), repo.TaskFilter{})
	if err != nil || len(tasks) != 0 {
		t.Fatalf("other courier sees %d tasks (%v)", len(tasks), err)
	}
}

func TestBranchIsolation(t *testing.T) {
	env := newTestEnv(t)
	south, err := env.Engine.CreateBranch(env.Ctx, env.Super, "South")
	if err != nil {
		t.Fatal(err)
	}
	southAdmin, err := env.Engine.CreateUser(env.Ctx, env.Super, engine.CreateUserInput{
		BranchID: south.ID, Name: "Sam", Email: "sam@example.com", Password: "sampass12", Role: domain.RoleBranchAdmin,
	})
	if err != nil {
		t.Fatal(err)
	}
	p := env.product(t, "north-parcel")
	_, err = env.Engine.AssignTask(env.Ctx, southAdmin.Caller(), engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("north courier is invisible to south admin, got %v", err)
	}
	if _, err := env.Engine.Repo.GetProduct(env.Ctx, nil, southAdmin.Caller(), p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("out of branch product must be not found, got %v", err)
	}
	_, err = env.Engine.CreateUser(env.Ctx, env.Admin, engine.CreateUserInput{
		Name: "Eve", Email: "eve@example.com", Password: "evepass12", Role: domain.RoleBranchAdmin,
	})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("branch admins only create couriers, got %v", err)
	}
}

func TestCancelReleasesTargets(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "parcel")
	s := env.shipment(t)
	tasks, err := env.Engine.BatchAssign(env.Ctx, env.Admin, engine.BatchAssignInput{
		DeliveryUserID: env.Courier.ID, ProductIDs: []int64{p.ID}, ShipmentIDs: []int64{s.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if _, err := env.Engine.TransitionTask(env.Ctx, env.Admin, engine.TransitionInput{TaskID: task.ID, Status: domain.TaskCancelled, Notes: "customer away"}); err != nil {
			t.Fatalf("cancel %d: %v", task.ID, err)
		}
	}
	if env.productStatus(t, p.ID) != domain.ProductAvailable {
		t.Fatalf("cancelled product must be available again")
	}
	got, trail, err := env.Engine.Tracking(env.Ctx, env.Admin, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ShipmentPending || got.DeliveryUserID != nil {
		t.Fatalf("shipment not released: %+v", got)
	}
	if last := trail[len(trail)-1]; last.Status != domain.ShipmentPending {
		t.Fatalf("missing release tracking row: %+v", last)
	}
	if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier2.ID, ProductID: p.ID}); err != nil {
		t.Fatalf("released product should be assignable: %v", err)
	}
}

func TestShipmentTaskCompletionDeliversShipment(t *testing.T) {
	env := newTestEnv(t)
	s := env.shipment(t)
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ShipmentID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	courier := env.Courier.Caller()
	for _, st := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskCompleted} {
		if _, err := env.Engine.TransitionTask(env.Ctx, courier, engine.TransitionInput{TaskID: task.ID, Status: st}); err != nil {
			t.Fatalf("%s: %v", st, err)
		}
	}
	got, trail, err := env.Engine.TrackPublic(env.Ctx, s.TrackingNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ShipmentDelivered {
		t.Fatalf("shipment status %s", got.Status)
	}
	want := []domain.ShipmentStatus{domain.ShipmentPending, domain.ShipmentInTransit, domain.ShipmentDelivered}
	if len(trail) != len(want) {
		t.Fatalf("trail %+v", trail)
	}
	for i, st := range want {
		if trail[i].Status != st {
			t.Fatalf("trail[%d] = %s, want %s", i, trail[i].Status, st)
		}
	}
}

func TestUpdateShipmentStatus(t *testing.T) {
	env := newTestEnv(t)
	s := env.shipment(t)
	if len(s.TrackingNumber) != len("TRK")+10+4 {
		t.Fatalf("tracking number format: %s", s.TrackingNumber)
	}
	upd, err := env.Engine.UpdateShipmentStatus(env.Ctx, env.Admin, engine.ShipmentStatusInput{
		ShipmentID: s.ID, Status: domain.ShipmentDelayed, Location: "Depot 3", Notes: "weather",
	})
	if err != nil || upd.Status != domain.ShipmentDelayed {
		t.Fatalf("delay: %v", err)
	}
	upd, err = env.Engine.UpdateShipmentStatus(env.Ctx, env.Admin, engine.ShipmentStatusInput{
		ShipmentID: s.ID, Status: domain.ShipmentInTransit, DeliveryUserID: env.Courier.ID,
	})
	if err != nil || upd.DeliveryUserID == nil || *upd.DeliveryUserID != env.Courier.ID {
		t.Fatalf("hand to courier: %+v %v", upd, err)
	}
	if _, err := env.Engine.UpdateShipmentStatus(env.Ctx, env.Courier.Caller(), engine.ShipmentStatusInput{ShipmentID: s.ID, Status: domain.ShipmentDelivered}); err != nil {
		t.Fatalf("courier delivers: %v", err)
	}
	_, err = env.Engine.UpdateShipmentStatus(env.Ctx, env.Admin, engine.ShipmentStatusInput{ShipmentID: s.ID, Status: domain.ShipmentInTransit})
	var te engine.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("delivered is terminal, got %v", err)
	}
	_, err = env.Engine.UpdateShipmentStatus(env.Ctx, env.Courier2.Caller(), engine.ShipmentStatusInput{ShipmentID: s.ID, Status: domain.ShipmentIssue})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("couriers only see their shipments, got %v", err)
	}
	_, trail, _ := env.Engine.Tracking(env.Ctx, env.Admin, s.ID)
	if len(trail) != 4 || trail[1].Location != "Depot 3" {
		t.Fatalf("trail %+v", trail)
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func countOf(counts []domain.StatusCount, status string) int {
	for _, c := range counts {
		if c.Status == status {
			return c.Count
		}
	}
	return 0
}

func TestDashboardCachedAndInvalidated(t *testing.T) {
	env := newTestEnv(t)
	cache := &memCache{data: map[string][]byte{}}
	env.Engine.Cache = cache
	p := env.product(t, "parcel")

	d, err := env.Engine.Dashboard(env.Ctx, env.Admin)
	if err != nil {
		t.Fatal(err)
	}
	if countOf(d.ProductsByStatus, "available") != 1 || d.ActiveCouriers != 2 {
		t.Fatalf("dashboard %+v", d)
	}
	if len(cache.data) != 1 {
		t.Fatalf("dashboard should be cached")
	}
	if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID}); err != nil {
		t.Fatal(err)
	}
	if len(cache.data) != 0 {
		t.Fatalf("assignment must invalidate the branch dashboard")
	}
	d, err = env.Engine.Dashboard(env.Ctx, env.Admin)
	if err != nil {
		t.Fatal(err)
	}
	if countOf(d.TasksByStatus, "assigned") != 1 || countOf(d.ProductsByStatus, "pending") != 1 {
		t.Fatalf("stale dashboard %+v", d)
	}
	if _, err := env.Engine.Dashboard(env.Ctx, env.Courier.Caller()); err == nil {
		t.Fatalf("couriers cannot view reports")
	}
}

func TestCourierDashboardBypassesBranchCache(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	role := cfg.RBAC.Roles[string(domain.RoleDeliveryUser)]
	role.Permissions = append(role.Permissions, auth.PermReportView)
	cfg.RBAC.Roles[string(domain.RoleDeliveryUser)] = role
	env.Engine.Auth = auth.New(cfg)
	cache := &memCache{data: map[string][]byte{}}
	env.Engine.Cache = cache

	for _, name := range []string{"a", "b"} {
		p := env.product(t, name)
		if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier2.ID, ProductID: p.ID}); err != nil {
			t.Fatal(err)
		}
	}
	admin, err := env.Engine.Dashboard(env.Ctx, env.Admin)
	if err != nil {
		t.Fatal(err)
	}
	if countOf(admin.TasksByStatus, "assigned") != 2 {
		t.Fatalf("admin dashboard %+v", admin)
	}
	mine, err := env.Engine.Dashboard(env.Ctx, env.Courier.Caller())
	if err != nil {
		t.Fatal(err)
	}
	if n := countOf(mine.TasksByStatus, "assigned"); n != 0 {
		t.Fatalf("courier without tasks sees %d assigned", n)
	}
	if len(cache.data) != 1 {
		t.Fatalf("only the branch-wide view is cached, got %d keys", len(cache.data))
	}
	again, err := env.Engine.Dashboard(env.Ctx, env.Admin)
	if err != nil {
		t.Fatal(err)
	}
	if countOf(again.TasksByStatus, "assigned") != 2 {
		t.Fatalf("courier view overwrote the branch cache: %+v", again)
	}
}

type recordingPublisher struct {
	msgs []events.Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	var m events.Message
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func TestPublishesLifecycleMessages(t *testing.T) {
	env := newTestEnv(t)
	pub := &recordingPublisher{}
	env.Engine.Publisher = pub
	s := env.shipment(t)
	task, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ShipmentID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskCompleted} {
		if _, err := env.Engine.TransitionTask(env.Ctx, env.Admin, engine.TransitionInput{TaskID: task.ID, Status: st}); err != nil {
			t.Fatal(err)
		}
	}
	var types []string
	for _, m := range pub.msgs {
		types = append(types, m.Type)
	}
	want := []string{events.TypeTaskAssigned, events.TypeTaskStatusChanged, events.TypeTaskStatusChanged, events.TypeShipmentStatusChanged}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("published %v, want %v", types, want)
	}
	if pub.msgs[0].EntityID != task.ID || pub.msgs[0].BranchID != env.Branch.ID {
		t.Fatalf("envelope %+v", pub.msgs[0])
	}

	pub.err = errors.New("broker down")
	p := env.product(t, "parcel")
	if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID}); err != nil {
		t.Fatalf("publish failures must not fail the request: %v", err)
	}
}

func TestWorkload(t *testing.T) {
	env := newTestEnv(t)
	p1, p2 := env.product(t, "a"), env.product(t, "b")
	tasks, err := env.Engine.BatchAssign(env.Ctx, env.Admin, engine.BatchAssignInput{DeliveryUserID: env.Courier.ID, ProductIDs: []int64{p1.ID, p2.ID}})
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskCompleted} {
		if _, err := env.Engine.TransitionTask(env.Ctx, env.Admin, engine.TransitionInput{TaskID: tasks[0].ID, Status: st}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := env.Engine.Workload(env.Ctx, env.Admin, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both couriers, got %+v", rows)
	}
	var cy domain.Workload
	for _, r := range rows {
		if r.DeliveryUserID == env.Courier.ID {
			cy = r
		}
	}
	if cy.Assigned != 1 || cy.Completed != 1 || cy.CompletedToday != 1 || cy.InProgress != 0 {
		t.Fatalf("workload %+v", cy)
	}
	rows, err = env.Engine.Workload(env.Ctx, env.Admin, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.CompletedToday != 0 {
			t.Fatalf("completions from yesterday counted today: %+v", r)
		}
	}
}

func TestListTasksOrderedByPriority(t *testing.T) {
	env := newTestEnv(t)
	prios := []domain.Priority{domain.PriorityLow, domain.PriorityUrgent, domain.PriorityMedium, domain.PriorityHigh}
	for i, pr := range prios {
		p := env.product(t, fmt.Sprintf("p%d", i))
		if _, err := env.Engine.AssignTask(env.Ctx, env.Admin, engine.AssignTaskInput{DeliveryUserID: env.Courier.ID, ProductID: p.ID, Priority: pr}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := env.Engine.Repo.ListTasks(env.Ctx, env.Admin, repo.TaskFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Priority != domain.PriorityUrgent || page[1].Priority != domain.PriorityHigh {
		t.Fatalf("first page %+v", page)
	}
	rest, err := env.Engine.Repo.ListTasks(env.Ctx, env.Admin, repo.TaskFilter{Limit: 2, Cursor: repo.TaskCursor(page[1])})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0].Priority != domain.PriorityMedium || rest[1].Priority != domain.PriorityLow {
		t.Fatalf("second page %+v", rest)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "ADA@example.com", "adapass12")
	if err != nil || u.Role != domain.RoleBranchAdmin {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "ada@example.com", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody@example.com", "x"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
	if _, err := env.Engine.SetUserStatus(env.Ctx, env.Admin, env.Courier.ID, domain.UserInactive); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ResolveCaller(env.Ctx, env.Courier.ID); !errors.Is(err, engine.ErrInactiveUser) {
		t.Fatalf("inactive caller: %v", err)
	}
	if _, created, err := env.Engine.EnsureSuperAdmin(env.Ctx, "x", "x@example.com", "password1"); err != nil || created {
		t.Fatalf("bootstrap must be idempotent: %v %v", created, err)
	}
}
