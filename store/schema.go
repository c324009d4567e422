package store

import (
	"fmt"
	"time"
)

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"
	AttrData       = "data"
	AttrTTL        = "ttl"

	// Entity types
	EntityTypeRun              = "Run"
	EntityTypeRunLog           = "RunLog"
	EntityTypeWorkflow         = "Workflow"
	EntityTypeResolvedSelector = "ResolvedSelector"

	// Index names
	IndexWorkflowIndex = "GSI1"
	IndexStatusIndex   = "GSI2"
)

// Key builders for single-table design

// Run keys: PK=RUN#{runID}, SK=META
func runPK(runID string) string {
	return fmt.Sprintf("RUN#%s", runID)
}

func runSK() string {
	return "META"
}

// Runs by workflow: GSI1PK=WF#{workflowID}, GSI1SK={createdAt}
func runGSI1PK(workflowID string) string {
	return fmt.Sprintf("WF#%s", workflowID)
}

// Runs by status: GSI2PK=STATUS#{status}, GSI2SK={createdAt}
func runGSI2PK(status string) string {
	return fmt.Sprintf("STATUS#%s", status)
}

func runCreatedSK(createdAt time.Time) string {
	return createdAt.UTC().Format(time.RFC3339Nano)
}

// Log keys: PK=RUN#{runID}, SK=LOG#{seq:08d}
func runLogPK(runID string) string {
	return runPK(runID)
}

func runLogSK(seq int) string {
	return fmt.Sprintf("LOG#%08d", seq)
}

// Workflow keys: PK=WF#{workflowID}, SK=META
func workflowPK(workflowID string) string {
	return fmt.Sprintf("WF#%s", workflowID)
}

func workflowSK() string {
	return "META"
}

// ResolvedSelector keys: PK=WF#{workflowID}, SK=SEL#{stepIndex:04d}
func selectorPK(workflowID string) string {
	return workflowPK(workflowID)
}

func selectorSK(stepIndex int) string {
	return fmt.Sprintf("SEL#%04d", stepIndex)
}

// Prefix for range queries
func logPrefix() string {
	return "LOG#"
}
