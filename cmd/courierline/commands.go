package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"courierline/internal/app"
	"courierline/internal/domain"
	"courierline/internal/engine"
	"courierline/internal/repo"
)

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func idOrDash(id *int64) any {
	if id == nil {
		return "-"
	}
	return *id
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Assign and progress delivery tasks",
	}
	cmd.AddCommand(taskAssignCmd(), taskBatchCmd(), taskStatusCmd(), taskListCmd(), taskHistoryCmd())
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var in engine.AssignTaskInput
	var priority string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign one product or shipment to a delivery user",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = domain.Priority(priority)
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				t, err := a.Engine.AssignTask(ctx, c, in)
				if err != nil {
					return err
				}
				return printTasks([]domain.DeliveryTask{t})
			})
		},
	}
	cmd.Flags().Int64Var(&in.DeliveryUserID, "user", 0, "delivery user id")
	cmd.Flags().Int64Var(&in.ProductID, "product", 0, "product id")
	cmd.Flags().Int64Var(&in.ShipmentID, "shipment", 0, "shipment id")
	cmd.Flags().Int64Var(&in.LocationID, "location", 0, "location id")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium, high or urgent")
	cmd.Flags().StringVar(&in.ScheduledDate, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.Instructions, "instructions", "", "delivery instructions")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "history note")
	return cmd
}

func taskBatchCmd() *cobra.Command {
	var in engine.BatchAssignInput
	var priority string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Assign many products and shipments in one transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = domain.Priority(priority)
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				tasks, err := a.Engine.BatchAssign(ctx, c, in)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().Int64Var(&in.DeliveryUserID, "user", 0, "delivery user id")
	cmd.Flags().Int64SliceVar(&in.ProductIDs, "products", nil, "product ids")
	cmd.Flags().Int64SliceVar(&in.ShipmentIDs, "shipments", nil, "shipment ids")
	cmd.Flags().Int64Var(&in.LocationID, "location", 0, "location id")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium, high or urgent")
	cmd.Flags().StringVar(&in.ScheduledDate, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.Instructions, "instructions", "", "delivery instructions")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "history note")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to in_progress, completed or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				t, err := a.Engine.TransitionTask(ctx, c, engine.TransitionInput{TaskID: id, Status: domain.TaskStatus(args[1]), Notes: notes})
				if err != nil {
					return err
				}
				return printTasks([]domain.DeliveryTask{t})
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "history note")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				f.Statuses = strings.Split(status, ",")
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, c, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().Int64Var(&f.DeliveryUserID, "user", 0, "delivery user filter")
	cmd.Flags().StringVar(&f.ScheduledDate, "date", "", "scheduled date filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func printTasks(tasks []domain.DeliveryTask) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable(table.Row{"ID", "Target", "Courier", "Priority", "Status", "Scheduled", "Completed"})
	for _, t := range tasks {
		target := fmt.Sprintf("product %v", idOrDash(t.ProductID))
		if t.ShipmentID != nil {
			target = fmt.Sprintf("shipment %d", *t.ShipmentID)
		}
		completed := ""
		if t.CompletedAt != nil {
			completed = *t.CompletedAt
		}
		tw.AppendRow(table.Row{t.ID, target, idOrDash(t.DeliveryUserID), t.Priority, t.Status, t.ScheduledDate, completed})
	}
	tw.Render()
	return nil
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show a task's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				hist, err := a.Engine.Repo.ListTaskHistory(ctx, c, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hist)
				}
				tw := newTable(table.Row{"At", "Status", "By", "Notes"})
				for _, h := range hist {
					tw.AppendRow(table.Row{h.CreatedAt, h.Status, h.CreatedBy, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func shipmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shipment",
		Short: "Create and track shipments",
	}
	var in engine.CreateShipmentInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a shipment with a fresh tracking number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				s, err := a.Engine.CreateShipment(ctx, c, in)
				if err != nil {
					return err
				}
				return printShipments([]domain.Shipment{s})
			})
		},
	}
	create.Flags().Int64Var(&in.BranchID, "branch", 0, "branch id (super admins)")
	create.Flags().StringVar(&in.SenderName, "sender", "", "sender name")
	create.Flags().StringVar(&in.SenderPhone, "sender-phone", "", "sender phone")
	create.Flags().StringVar(&in.SenderAddress, "sender-address", "", "sender address")
	create.Flags().StringVar(&in.RecipientName, "recipient", "", "recipient name")
	create.Flags().StringVar(&in.RecipientPhone, "recipient-phone", "", "recipient phone")
	create.Flags().StringVar(&in.RecipientAddress, "recipient-address", "", "recipient address")
	create.Flags().StringVar(&in.Notes, "notes", "", "first tracking note")

	var upd engine.ShipmentStatusInput
	status := &cobra.Command{
		Use:   "status <shipment-id> <status>",
		Short: "Record a shipment status change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscan(args[0], &upd.ShipmentID); err != nil {
				return fmt.Errorf("invalid shipment id %q", args[0])
			}
			upd.Status = domain.ShipmentStatus(args[1])
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				s, err := a.Engine.UpdateShipmentStatus(ctx, c, upd)
				if err != nil {
					return err
				}
				return printShipments([]domain.Shipment{s})
			})
		},
	}
	status.Flags().Int64Var(&upd.DeliveryUserID, "user", 0, "hand the shipment to this delivery user")
	status.Flags().StringVar(&upd.Location, "location", "", "where the change happened")
	status.Flags().StringVar(&upd.Notes, "notes", "", "tracking note")

	track := &cobra.Command{
		Use:   "track <tracking-number>",
		Short: "Show a shipment's tracking history (no --as needed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, hist, err := a.Engine.TrackPublic(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"shipment": s, "history": hist})
				}
				fmt.Printf("%s  %s -> %s  [%s]\n", s.TrackingNumber, s.SenderName, s.RecipientName, s.Status)
				tw := newTable(table.Row{"At", "Status", "Location", "Notes"})
				for _, h := range hist {
					tw.AppendRow(table.Row{h.CreatedAt, h.Status, h.Location, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}

	var f repo.ShipmentFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				items, err := a.Engine.Repo.ListShipments(ctx, c, f)
				if err != nil {
					return err
				}
				return printShipments(items)
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().Int64Var(&f.DeliveryUserID, "user", 0, "delivery user filter")
	list.Flags().StringVar(&f.Search, "search", "", "tracking number or recipient")

	cmd.AddCommand(create, status, track, list)
	return cmd
}

func printShipments(items []domain.Shipment) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Tracking", "Recipient", "Courier", "Status", "Updated"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.TrackingNumber, s.RecipientName, idOrDash(s.DeliveryUserID), s.Status, s.UpdatedAt})
	}
	tw.Render()
	return nil
}

func productCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
	}
	var in engine.CreateProductInput
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				p, err := a.Engine.CreateProduct(ctx, c, in)
				if err != nil {
					return err
				}
				return printProducts([]domain.Product{p})
			})
		},
	}
	create.Flags().Int64Var(&in.BranchID, "branch", 0, "branch id (super admins)")
	create.Flags().IntVar(&in.Quantity, "quantity", 1, "quantity")
	create.Flags().Int64Var(&in.LocationID, "location", 0, "location id")

	var f repo.ProductFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				items, err := a.Engine.Repo.ListProducts(ctx, c, f)
				if err != nil {
					return err
				}
				return printProducts(items)
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().Int64Var(&f.LocationID, "location", 0, "location filter")
	cmd.AddCommand(create, list)
	return cmd
}

func printProducts(items []domain.Product) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Branch", "Name", "Qty", "Location", "Status"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.BranchID, p.Name, p.Quantity, idOrDash(p.LocationID), p.Status})
	}
	tw.Render()
	return nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	var in engine.CreateUserInput
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = domain.Role(role)
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				u, err := a.Engine.CreateUser(ctx, c, in)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	create.Flags().Int64Var(&in.BranchID, "branch", 0, "branch id (super admins)")
	create.Flags().StringVar(&in.Name, "name", "", "full name")
	create.Flags().StringVar(&in.Email, "email", "", "login email")
	create.Flags().StringVar(&in.Phone, "phone", "", "phone")
	create.Flags().StringVar(&in.Password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", string(domain.RoleDeliveryUser), "super_admin, branch_admin or delivery_user")

	var f repo.UserFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				items, err := a.Engine.Repo.ListUsers(ctx, c, f)
				if err != nil {
					return err
				}
				return printUsers(items)
			})
		},
	}
	list.Flags().StringVar(&f.Role, "role", "", "role filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")

	status := &cobra.Command{
		Use:   "status <user-id> <active|inactive>",
		Short: "Activate or deactivate a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				u, err := a.Engine.SetUserStatus(ctx, c, id, domain.UserStatus(args[1]))
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.AddCommand(create, list, status)
	return cmd
}

func printUsers(items []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Branch", "Name", "Email", "Role", "Status"})
	for _, u := range items {
		tw.AppendRow(table.Row{u.ID, idOrDash(u.BranchID), u.Name, u.Email, u.Role, u.Status})
	}
	tw.Render()
	return nil
}

func branchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches (super admins)",
	}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				b, err := a.Engine.CreateBranch(ctx, c, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				items, err := a.Engine.Repo.ListBranches(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Name, b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(create, list)
	return cmd
}

func locationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage pickup and drop-off locations",
	}
	var in engine.CreateLocationInput
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				l, err := a.Engine.CreateLocation(ctx, c, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	create.Flags().Int64Var(&in.BranchID, "branch", 0, "branch id (super admins)")
	create.Flags().StringVar(&in.Address, "address", "", "street address")
	list := &cobra.Command{
		Use:   "list",
		Short: "List locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				items, err := a.Engine.Repo.ListLocations(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Branch", "Name", "Address"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.BranchID, l.Name, l.Address})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(create, list)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Branch reports",
	}
	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Counts by status for your branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				d, err := a.Engine.Dashboard(ctx, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := newTable(table.Row{"Section", "Status", "Count"})
				sections := []struct {
					name   string
					counts []domain.StatusCount
				}{
					{"tasks", d.TasksByStatus},
					{"priority", d.TasksByPriority},
					{"shipments", d.ShipmentsByState},
					{"products", d.ProductsByStatus},
				}
				for _, s := range sections {
					for _, sc := range s.counts {
						tw.AppendRow(table.Row{s.name, sc.Status, sc.Count})
					}
				}
				tw.AppendFooter(table.Row{"", "active couriers", d.ActiveCouriers})
				tw.Render()
				return nil
			})
		},
	}
	var date string
	workload := &cobra.Command{
		Use:   "workload",
		Short: "Per-courier task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var day time.Time
			if date != "" {
				var err error
				if day, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD")
				}
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c domain.Caller) error {
				rows, err := a.Engine.Workload(ctx, c, day)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable(table.Row{"Courier", "Name", "Assigned", "In progress", "Completed", "Today"})
				for _, w := range rows {
					tw.AppendRow(table.Row{w.DeliveryUserID, w.Name, w.Assigned, w.InProgress, w.Completed, w.CompletedToday})
				}
				tw.Render()
				return nil
			})
		},
	}
	workload.Flags().StringVar(&date, "date", "", "day for completed_today (YYYY-MM-DD, UTC)")
	cmd.AddCommand(dashboard, workload)
	return cmd
}
