package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workflow"
	"github.com/shopspring/decimal"
)

func setupPipelineEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "piticrm_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, "biz-test-1")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test User")
	return ctx
}

func TestLeadPipelineLifecycle(t *testing.T) {
	ctx := setupPipelineEnv(t)

	funnel, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name: "Sales",
		Stages: []*models.NewStage{
			{Name: "New", Color: "#2db7f5"},
			{Name: "Negotiation", Color: "#f50"},
			{Name: "Contract", Color: "#87d068"},
		},
	})
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	if len(funnel.Stages) != 3 {
		t.Fatalf("expected 3 stages; got %d", len(funnel.Stages))
	}
	for i, stage := range funnel.Stages {
		if stage.Position != i+1 {
			t.Fatalf("expected dense 1-based positions; stage %d has position %d", i, stage.Position)
		}
	}

	// funnel without stages is rejected
	if _, err := workflow.CreateFunnel(ctx, &models.NewFunnel{Name: "Empty"}); err == nil {
		t.Fatalf("expected validation error for funnel without stages")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected VALIDATION_ERROR; got %s", utils.ErrorCode(err))
	}

	value, _ := utils.ParseDecimal("250000")
	lead, err := workflow.CreateLead(ctx, &models.NewLead{
		Title:          "Riverside Apartment",
		LeadType:       "buyer",
		Category:       "residential",
		EstimatedValue: value,
		FunnelId:       funnel.ID,
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if lead.StageId != funnel.Stages[0].ID {
		t.Fatalf("new lead should land on the entry stage")
	}
	if lead.Status != models.LeadStatusActive {
		t.Fatalf("new lead should be active; got %s", lead.Status)
	}

	histories, err := models.GetLeadHistories(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLeadHistories: %v", err)
	}
	if len(histories) != 1 || histories[0].ActionType != models.LeadActionCreated {
		t.Fatalf("expected a single lead_created entry; got %d entries", len(histories))
	}

	// stage from another funnel is rejected
	other, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name:   "Rentals",
		Stages: []*models.NewStage{{Name: "Inbox"}},
	})
	if err != nil {
		t.Fatalf("CreateFunnel(other): %v", err)
	}
	if _, err := workflow.MoveLeadStage(ctx, lead.ID, other.Stages[0].ID); err == nil {
		t.Fatalf("expected error moving to a stage of another funnel")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected VALIDATION_ERROR; got %s", utils.ErrorCode(err))
	}

	// same-stage move is a silent no-op
	if _, err := workflow.MoveLeadStage(ctx, lead.ID, lead.StageId); err != nil {
		t.Fatalf("same-stage move must succeed: %v", err)
	}
	histories, _ = models.GetLeadHistories(ctx, lead.ID)
	if len(histories) != 1 {
		t.Fatalf("same-stage move must not append history; got %d entries", len(histories))
	}

	// real move appends a history naming both stages
	moved, err := workflow.MoveLeadStage(ctx, lead.ID, funnel.Stages[1].ID)
	if err != nil {
		t.Fatalf("MoveLeadStage: %v", err)
	}
	if moved.StageId != funnel.Stages[1].ID {
		t.Fatalf("stage not updated")
	}
	histories, _ = models.GetLeadHistories(ctx, lead.ID)
	if len(histories) != 2 {
		t.Fatalf("expected 2 history entries; got %d", len(histories))
	}
	if histories[0].ActionType != models.LeadActionStageMoved {
		t.Fatalf("expected stage_moved; got %s", histories[0].ActionType)
	}
	if !strings.Contains(histories[0].Description, "New") || !strings.Contains(histories[0].Description, "Negotiation") {
		t.Fatalf("stage_moved description should name both stages; got %q", histories[0].Description)
	}

	// comment + audit entry in one go
	longBody := strings.Repeat("buyer wants a quick close ", 10)
	comment, err := workflow.AddLeadComment(ctx, lead.ID, longBody)
	if err != nil {
		t.Fatalf("AddLeadComment: %v", err)
	}
	if comment.UserName != "Test User" {
		t.Fatalf("comment should carry the actor; got %q", comment.UserName)
	}
	histories, _ = models.GetLeadHistories(ctx, lead.ID)
	if histories[0].ActionType != models.LeadActionCommentAdded {
		t.Fatalf("expected comment_added; got %s", histories[0].ActionType)
	}
	if len([]rune(histories[0].Description)) > len("Comment added: ")+83 {
		t.Fatalf("comment preview not truncated: %q", histories[0].Description)
	}

	// win closes the lead and freezes the stage
	won, err := workflow.MarkLeadWon(ctx, lead.ID)
	if err != nil {
		t.Fatalf("MarkLeadWon: %v", err)
	}
	if won.Status != models.LeadStatusWon {
		t.Fatalf("expected won; got %s", won.Status)
	}
	if _, err := workflow.MarkLeadWon(ctx, lead.ID); err == nil {
		t.Fatalf("won is terminal; second win must fail")
	} else if !utils.IsInvalidState(err) {
		t.Fatalf("expected INVALID_STATE; got %s", utils.ErrorCode(err))
	}
	if _, err := workflow.MoveLeadStage(ctx, lead.ID, funnel.Stages[2].ID); err == nil {
		t.Fatalf("closed lead must not move")
	} else if !utils.IsInvalidState(err) {
		t.Fatalf("expected INVALID_STATE; got %s", utils.ErrorCode(err))
	}

	// losing needs a reason
	second, err := workflow.CreateLead(ctx, &models.NewLead{
		Title:    "Downtown Office",
		FunnelId: funnel.ID,
	})
	if err != nil {
		t.Fatalf("CreateLead(second): %v", err)
	}
	if _, err := workflow.MarkLeadLost(ctx, second.ID, ""); err == nil {
		t.Fatalf("expected validation error for empty loss reason")
	}
	lost, err := workflow.MarkLeadLost(ctx, second.ID, "went with a competitor")
	if err != nil {
		t.Fatalf("MarkLeadLost: %v", err)
	}
	if lost.LossReason != "went with a competitor" {
		t.Fatalf("loss reason not recorded")
	}
}

func TestAttachDetachIdempotency(t *testing.T) {
	ctx := setupPipelineEnv(t)

	funnel, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name:   "Sales",
		Stages: []*models.NewStage{{Name: "New"}},
	})
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	lead, err := workflow.CreateLead(ctx, &models.NewLead{Title: "Hilltop Plot", FunnelId: funnel.ID})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	property, err := models.CreateProperty(ctx, &models.NewProperty{Name: "Hilltop Plot 7"})
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}

	// attaching a missing target fails before anything changes
	if err := workflow.AttachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID+999); err == nil {
		t.Fatalf("expected not-found for missing target")
	} else if !utils.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND; got %s", utils.ErrorCode(err))
	}

	if err := workflow.AttachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID); err != nil {
		t.Fatalf("AttachLeadTarget: %v", err)
	}
	// second attach is a successful no-op
	if err := workflow.AttachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID); err != nil {
		t.Fatalf("repeat attach must succeed: %v", err)
	}

	attached, err := models.ListAttachedTargets(ctx, lead.ID, models.AttachmentKindProperty)
	if err != nil {
		t.Fatalf("ListAttachedTargets: %v", err)
	}
	if len(attached) != 1 {
		t.Fatalf("expected exactly one edge; got %d", len(attached))
	}

	histories, _ := models.GetLeadHistories(ctx, lead.ID)
	attachEntries := 0
	for _, h := range histories {
		if h.ActionType == models.LeadActionPropertyAttached {
			attachEntries++
		}
	}
	if attachEntries != 1 {
		t.Fatalf("idempotent attach must append exactly one history; got %d", attachEntries)
	}

	available, err := models.ListAvailableTargets(ctx, lead.ID, models.AttachmentKindProperty)
	if err != nil {
		t.Fatalf("ListAvailableTargets: %v", err)
	}
	for _, target := range available {
		if target.ID == property.ID {
			t.Fatalf("attached property still offered as available")
		}
	}

	if err := workflow.DetachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID); err != nil {
		t.Fatalf("DetachLeadTarget: %v", err)
	}
	// second detach is a successful no-op
	if err := workflow.DetachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID); err != nil {
		t.Fatalf("repeat detach must succeed: %v", err)
	}
	attached, _ = models.ListAttachedTargets(ctx, lead.ID, models.AttachmentKindProperty)
	if len(attached) != 0 {
		t.Fatalf("edge should be gone; got %d", len(attached))
	}

	// deleting the target record cleans up any remaining edges
	if err := workflow.AttachLeadTarget(ctx, lead.ID, models.AttachmentKindProperty, property.ID); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if _, err := models.DeleteProperty(ctx, property.ID); err != nil {
		t.Fatalf("DeleteProperty: %v", err)
	}
	attached, _ = models.ListAttachedTargets(ctx, lead.ID, models.AttachmentKindProperty)
	if len(attached) != 0 {
		t.Fatalf("edges must be removed with their target; got %d", len(attached))
	}
}

func TestFunnelStatsAndFilters(t *testing.T) {
	ctx := setupPipelineEnv(t)

	funnel, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name: "Sales",
		Stages: []*models.NewStage{
			{Name: "New"},
			{Name: "Negotiation"},
		},
	})
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}

	mkLead := func(title, leadType string, amount string) *models.Lead {
		t.Helper()
		value, _ := utils.ParseDecimal(amount)
		lead, err := workflow.CreateLead(ctx, &models.NewLead{
			Title:          title,
			LeadType:       leadType,
			EstimatedValue: value,
			FunnelId:       funnel.ID,
		})
		if err != nil {
			t.Fatalf("CreateLead(%s): %v", title, err)
		}
		return lead
	}

	a := mkLead("Lakeside Villa", "buyer", "100")
	b := mkLead("Office Floor", "tenant", "250")
	c := mkLead("Garden Flat", "buyer", "50")

	if _, err := workflow.MoveLeadStage(ctx, b.ID, funnel.Stages[1].ID); err != nil {
		t.Fatalf("MoveLeadStage: %v", err)
	}
	if _, err := workflow.MarkLeadWon(ctx, a.ID); err != nil {
		t.Fatalf("MarkLeadWon: %v", err)
	}
	if _, err := workflow.MarkLeadLost(ctx, c.ID, "budget cut"); err != nil {
		t.Fatalf("MarkLeadLost: %v", err)
	}

	stats, err := models.GetFunnelStats(ctx, funnel.ID)
	if err != nil {
		t.Fatalf("GetFunnelStats: %v", err)
	}
	if stats.LeadCount != 3 || stats.WonCount != 1 || stats.LostCount != 1 || stats.ActiveCount != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	wantRate := 1.0 / 3.0
	if diff := stats.ConversionRate - wantRate; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected conversion rate %.4f; got %.4f", wantRate, stats.ConversionRate)
	}
	// lost value excluded: 100 (won) + 250 (active)
	if stats.TotalEstimatedValue.Cmp(decimal.NewFromInt(350)) != 0 {
		t.Fatalf("expected total value 350; got %s", stats.TotalEstimatedValue.String())
	}
	if len(stats.ValueByStage) != 2 {
		t.Fatalf("every stage must appear in valueByStage; got %d", len(stats.ValueByStage))
	}

	// filters
	status := models.LeadStatusActive
	leads, err := models.GetLeads(ctx, &models.LeadFilter{FunnelId: &funnel.ID, Status: &status})
	if err != nil {
		t.Fatalf("GetLeads(status): %v", err)
	}
	if len(leads) != 1 || leads[0].ID != b.ID {
		t.Fatalf("expected only the active lead; got %d", len(leads))
	}

	query := "VILLA"
	leads, err = models.GetLeads(ctx, &models.LeadFilter{Query: &query})
	if err != nil {
		t.Fatalf("GetLeads(query): %v", err)
	}
	if len(leads) != 1 || leads[0].ID != a.ID {
		t.Fatalf("text query should match title case-insensitively; got %d results", len(leads))
	}

	stageId := funnel.Stages[1].ID
	leads, err = models.GetLeads(ctx, &models.LeadFilter{StageId: &stageId})
	if err != nil {
		t.Fatalf("GetLeads(stage): %v", err)
	}
	if len(leads) != 1 || leads[0].ID != b.ID {
		t.Fatalf("stage filter should match the moved lead; got %d results", len(leads))
	}
}

func TestConcurrentStageMoves(t *testing.T) {
	ctx := setupPipelineEnv(t)

	const workers = 6

	stages := []*models.NewStage{{Name: "Start"}}
	for i := 0; i < workers; i++ {
		stages = append(stages, &models.NewStage{Name: fmt.Sprintf("Stage %d", i+1)})
	}
	funnel, err := workflow.CreateFunnel(ctx, &models.NewFunnel{Name: "Race", Stages: stages})
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	lead, err := workflow.CreateLead(ctx, &models.NewLead{Title: "Contested Lead", FunnelId: funnel.ID})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			if _, err := workflow.MoveLeadStage(ctx, lead.ID, target); err != nil {
				errCh <- err
			}
		}(funnel.Stages[i+1].ID)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent move failed: %v", err)
	}

	// every move serialized: one history per mover, no lost updates
	histories, err := models.GetLeadHistories(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLeadHistories: %v", err)
	}
	moves := 0
	for _, h := range histories {
		if h.ActionType == models.LeadActionStageMoved {
			moves++
		}
	}
	if moves != workers {
		t.Fatalf("expected %d stage_moved entries; got %d", workers, moves)
	}

	final, err := models.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	// last writer wins: the final stage must match the newest stage_moved entry
	if len(histories) == 0 {
		t.Fatalf("no histories")
	}
	last := histories[0]
	if last.ActionType != models.LeadActionStageMoved {
		t.Fatalf("newest entry should be a move; got %s", last.ActionType)
	}
	if final.StageId == funnel.Stages[0].ID {
		t.Fatalf("lead should have left the start stage")
	}

	// the move entries must chain: each source is the previous target, so the
	// audit log describes one legal serial order
	moveRe := regexp.MustCompile(`from stage "([^"]+)" to "([^"]+)"`)
	expectedSource := "Start"
	for i := len(histories) - 1; i >= 0; i-- {
		if histories[i].ActionType != models.LeadActionStageMoved {
			continue
		}
		m := moveRe.FindStringSubmatch(histories[i].Description)
		if len(m) != 3 {
			t.Fatalf("unparseable move description: %q", histories[i].Description)
		}
		if m[1] != expectedSource {
			t.Fatalf("move chain broken: entry reads %q→%q but previous target was %q", m[1], m[2], expectedSource)
		}
		expectedSource = m[2]
	}
}

func TestFunnelStructureAndLeadCascade(t *testing.T) {
	ctx := setupPipelineEnv(t)

	funnel, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name: "Sales",
		Stages: []*models.NewStage{
			{Name: "New"},
			{Name: "Qualified"},
			{Name: "Negotiation"},
			{Name: "Contract"},
		},
	})
	if err != nil {
		t.Fatalf("CreateFunnel: %v", err)
	}
	ids := make([]int, len(funnel.Stages))
	for i, stage := range funnel.Stages {
		ids[i] = stage.ID
	}

	// full reversal; positions must come back dense 1-based in the new order
	reversed := []int{ids[3], ids[2], ids[1], ids[0]}
	reordered, err := workflow.ReorderStages(ctx, funnel.ID, reversed)
	if err != nil {
		t.Fatalf("ReorderStages: %v", err)
	}
	for i, stage := range reordered.Stages {
		if stage.ID != reversed[i] {
			t.Fatalf("stage %d: expected id %d; got %d", i, reversed[i], stage.ID)
		}
		if stage.Position != i+1 {
			t.Fatalf("stage %d: expected position %d; got %d", i, i+1, stage.Position)
		}
	}

	// incomplete ordering is rejected
	if _, err := workflow.ReorderStages(ctx, funnel.ID, reversed[:3]); err == nil {
		t.Fatalf("expected error for incomplete ordering")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected VALIDATION_ERROR; got %s", utils.ErrorCode(err))
	}

	// an initial stage id that resolves to nothing is a not-found,
	// a stage of another funnel is a validation failure
	if _, err := workflow.CreateLead(ctx, &models.NewLead{
		Title: "Ghost Stage", FunnelId: funnel.ID, StageId: ids[3] + 999,
	}); err == nil {
		t.Fatalf("expected error for unknown stage id")
	} else if !utils.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND; got %s", utils.ErrorCode(err))
	}
	other, err := workflow.CreateFunnel(ctx, &models.NewFunnel{
		Name:   "Rentals",
		Stages: []*models.NewStage{{Name: "Inbox"}},
	})
	if err != nil {
		t.Fatalf("CreateFunnel(other): %v", err)
	}
	if _, err := workflow.CreateLead(ctx, &models.NewLead{
		Title: "Wrong Funnel", FunnelId: funnel.ID, StageId: other.Stages[0].ID,
	}); err == nil {
		t.Fatalf("expected error for a stage of another funnel")
	} else if !utils.IsValidation(err) {
		t.Fatalf("expected VALIDATION_ERROR; got %s", utils.ErrorCode(err))
	}

	// a stage holding leads cannot be deleted
	lead, err := workflow.CreateLead(ctx, &models.NewLead{
		Title: "Shopfront", FunnelId: funnel.ID, StageId: ids[1],
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if _, err := workflow.DeleteStage(ctx, ids[1]); err == nil {
		t.Fatalf("expected error deleting a stage with leads")
	} else if !utils.IsInvalidState(err) {
		t.Fatalf("expected INVALID_STATE; got %s", utils.ErrorCode(err))
	}

	// once the lead moves away the stage goes, and survivors are renumbered
	if _, err := workflow.MoveLeadStage(ctx, lead.ID, ids[0]); err != nil {
		t.Fatalf("MoveLeadStage: %v", err)
	}
	if _, err := workflow.DeleteStage(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteStage: %v", err)
	}
	remaining, err := models.GetFunnel(ctx, funnel.ID)
	if err != nil {
		t.Fatalf("GetFunnel: %v", err)
	}
	if len(remaining.Stages) != 3 {
		t.Fatalf("expected 3 stages left; got %d", len(remaining.Stages))
	}
	stageSet := make(map[int]bool, len(remaining.Stages))
	for i, stage := range remaining.Stages {
		if stage.Position != i+1 {
			t.Fatalf("survivor positions must stay dense 1-based; stage %d has %d", i, stage.Position)
		}
		stageSet[stage.ID] = true
	}
	current, err := models.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if !stageSet[current.StageId] {
		t.Fatalf("lead stage %d no longer in funnel stage set", current.StageId)
	}

	// the sole stage of a funnel cannot be deleted
	if _, err := workflow.DeleteStage(ctx, other.Stages[0].ID); err == nil {
		t.Fatalf("expected error deleting the last stage")
	} else if !utils.IsInvalidState(err) {
		t.Fatalf("expected INVALID_STATE; got %s", utils.ErrorCode(err))
	}

	// deleting a lead takes its comments, history and edges with it
	contact, err := models.CreateContact(ctx, &models.NewContact{Name: "Aye Chan"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if err := workflow.AttachLeadTarget(ctx, lead.ID, models.AttachmentKindContact, contact.ID); err != nil {
		t.Fatalf("AttachLeadTarget: %v", err)
	}
	if _, err := workflow.AddLeadComment(ctx, lead.ID, "owner is travelling until friday"); err != nil {
		t.Fatalf("AddLeadComment: %v", err)
	}
	if _, err := workflow.DeleteLead(ctx, lead.ID); err != nil {
		t.Fatalf("DeleteLead: %v", err)
	}
	if _, err := models.GetLead(ctx, lead.ID); err == nil {
		t.Fatalf("deleted lead still readable")
	} else if !utils.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND; got %s", utils.ErrorCode(err))
	}
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	for name, count := range map[string]func() (int64, error){
		"histories": func() (int64, error) {
			return utils.ResourceCountWhere[models.LeadHistory](ctx, businessId, "lead_id = ?", lead.ID)
		},
		"comments": func() (int64, error) {
			return utils.ResourceCountWhere[models.Comment](ctx, businessId, "lead_id = ?", lead.ID)
		},
		"edges": func() (int64, error) {
			return utils.ResourceCountWhere[models.LeadAttachment](ctx, businessId, "lead_id = ?", lead.ID)
		},
	} {
		n, err := count()
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Fatalf("expected 0 %s after delete; got %d", name, n)
		}
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("crm-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("crm-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=piticrm_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
