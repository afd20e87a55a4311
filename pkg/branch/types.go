// ABOUTME: BranchManager — copy-on-write branch tree over per-branch
// ABOUTME: ExtentStorage namespaces, with commits and branch-scoped presence (spec §4.4)

package branch

import "time"

// Branch mirrors one row of the branches table.
type Branch struct {
	ID             string
	Name           string
	ParentBranchID *string
	BaseCommitID   *string
	HeadCommitID   *string
	CreatedAt      time.Time
}

// Commit is an immutable record of a branch's live files at one point in time.
type Commit struct {
	ID             string
	BranchID       string
	Message        string
	Timestamp      time.Time
	ParentCommitID *string
	Snapshot       map[string]SnapshotEntry
}

// SnapshotEntry records one file's size at commit time. ExtentIDs is
// advisory (spec §4.4.4 permits it to be empty) and decoupled from the
// extent-id layout so the engine's addressing can evolve independently of
// commit history.
type SnapshotEntry struct {
	Size      int64
	ExtentIDs []string
}

const mainBranchName = "main"
