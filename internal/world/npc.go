package world

import "time"

// NPC behavior thresholds. Affinity is a fixed per-NPC score in [0,100]:
// high-affinity NPCs trail nearby players, low-affinity ones keep away,
// the middle band drifts on its own.
const (
	npcDetectRadius  = 12
	npcFollowAbove   = 60
	npcFleeBelow     = 40
	npcWanderPercent = 40
	npcWanderRange   = 5
	npcFleeDistance  = 6

	npcDecisionBase   = 400 * time.Millisecond
	npcDecisionJitter = 600 * time.Millisecond
)

// NPCState is the NPC behavior machine: idle ⇄ wandering ⇄ following ⇄ fleeing.
type NPCState string

const (
	NPCIdle      NPCState = "idle"
	NPCWandering NPCState = "wandering"
	NPCFollowing NPCState = "following_player"
	NPCFleeing   NPCState = "fleeing"
)

// NPC is one tick-driven ambient creature. All fields are owned by the
// World and touched only inside a tick.
type NPC struct {
	ID       string
	X, Y     int
	Affinity int
	State    NPCState

	hasTarget        bool
	targetX, targetY int
	nextDecision     time.Time
}

// NPCView is the read-only projection handed to renderers.
type NPCView struct {
	ID    string
	X, Y  int
	State NPCState
}

// stepNPCsLocked runs one decision pass. Each NPC acts at most once per
// decision window; windows are jittered so the population never moves in
// lockstep. Caller holds w.mu.
func (w *World) stepNPCsLocked(now time.Time) {
	for _, n := range w.npcs {
		if now.Before(n.nextDecision) {
			continue
		}
		w.decideNPCLocked(n)
		w.moveNPCLocked(n)
		n.nextDecision = now.Add(npcDecisionBase + time.Duration(w.rng.Int63n(int64(npcDecisionJitter))))
	}
}

// decideNPCLocked picks the NPC's state and target from the nearest online
// player and the NPC's affinity score.
func (w *World) decideNPCLocked(n *NPC) {
	px, py, found := w.nearestOnlinePlayerLocked(n.X, n.Y, npcDetectRadius)

	switch {
	case found && n.Affinity > npcFollowAbove:
		n.State = NPCFollowing
		w.setFollowTargetLocked(n, px, py)

	case found && n.Affinity < npcFleeBelow:
		n.State = NPCFleeing
		dx := sign(n.X - px)
		dy := sign(n.Y - py)
		if dx == 0 && dy == 0 {
			dx = 1
		}
		n.targetX = n.X + dx*npcFleeDistance
		n.targetY = n.Y + dy*npcFleeDistance
		n.hasTarget = true

	default:
		if w.rng.Intn(100) < npcWanderPercent {
			n.State = NPCWandering
			n.targetX = n.X + w.rng.Intn(2*npcWanderRange+1) - npcWanderRange
			n.targetY = n.Y + w.rng.Intn(2*npcWanderRange+1) - npcWanderRange
			n.hasTarget = true
		} else {
			n.State = NPCIdle
			n.hasTarget = false
		}
	}
}

// setFollowTargetLocked aims the NPC at a point 2–4 tiles from the player,
// so followers hover nearby instead of stacking on top of them.
func (w *World) setFollowTargetLocked(n *NPC, px, py int) {
	d := 2 + w.rng.Intn(3) // Chebyshev distance in [2,4]
	major := w.rng.Intn(2*d+1) - d
	minorSign := 1
	if w.rng.Intn(2) == 0 {
		minorSign = -1
	}
	if w.rng.Intn(2) == 0 {
		n.targetX = px + minorSign*d
		n.targetY = py + major
	} else {
		n.targetX = px + major
		n.targetY = py + minorSign*d
	}
	n.hasTarget = true
}

// moveNPCLocked advances one tile toward the pending target: larger-delta
// axis first, one orthogonal fallback, and a cancelled target when both
// are blocked.
func (w *World) moveNPCLocked(n *NPC) {
	if !n.hasTarget {
		return
	}
	dx := n.targetX - n.X
	dy := n.targetY - n.Y
	if dx == 0 && dy == 0 {
		n.hasTarget = false
		return
	}

	primX, primY := sign(dx), 0
	orthX, orthY := 0, sign(dy)
	if abs(dy) > abs(dx) {
		primX, primY, orthX, orthY = 0, sign(dy), sign(dx), 0
	}

	if primX != 0 || primY != 0 {
		if w.chunks.IsWalkable(n.X+primX, n.Y+primY) {
			n.X += primX
			n.Y += primY
			return
		}
	}
	if orthX != 0 || orthY != 0 {
		if w.chunks.IsWalkable(n.X+orthX, n.Y+orthY) {
			n.X += orthX
			n.Y += orthY
			return
		}
	}
	// Both directions blocked: drop the target rather than retrying into
	// the same wall on every decision.
	n.hasTarget = false
}

// nearestOnlinePlayerLocked returns the closest online player within
// radius (Chebyshev), if any. Caller holds w.mu.
func (w *World) nearestOnlinePlayerLocked(x, y, radius int) (int, int, bool) {
	bestDist := radius + 1
	var bx, by int
	found := false
	for _, p := range w.players {
		if !p.Online {
			continue
		}
		d := max(abs(p.X-x), abs(p.Y-y))
		if d <= radius && d < bestDist {
			bestDist = d
			bx, by = p.X, p.Y
			found = true
		}
	}
	return bx, by, found
}

func sign(v int) int {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
