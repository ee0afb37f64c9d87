package wave

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/models"
)

// ErrUnknownWave is returned for a wave name missing from the configured order.
var ErrUnknownWave = errors.New("unknown wave")

// Gate reasons.
const (
	ReasonMalformed      = "malformed_artifacts"
	ReasonNoValid        = "no_valid_verdicts"
	ReasonCritical       = "critical_findings"
	ReasonMajor          = "major_findings"
	ReasonSkipTolerance  = "skip_tolerance_exceeded"
	ReasonEscalate       = "escalate"
	ReasonMaxWaveReached = "max_wave_reached"
	ReasonDisabled       = "waves_disabled"
)

// Gate decides whether another wave of reviewers should run.
type Gate struct {
	Config models.WaveConfig
	Loader *artifact.Loader
}

// NewGate returns a Gate; a nil loader uses the default size cap.
func NewGate(cfg models.WaveConfig, loader *artifact.Loader) *Gate {
	if loader == nil {
		loader = artifact.NewLoader(0)
	}
	return &Gate{Config: cfg, Loader: loader}
}

// Index returns the zero-based position of wave in the configured order.
func (g *Gate) Index(wave string) (int, error) {
	for i, w := range g.Config.Order {
		if models.FoldKey(w) == models.FoldKey(wave) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q (configured order: %s)", ErrUnknownWave, wave, strings.Join(g.Config.Order, ", "))
}

// Reviewers returns the reviewer set configured for wave.
func (g *Gate) Reviewers(wave string) []string {
	for name, ids := range g.Config.Reviewers {
		if models.FoldKey(name) == models.FoldKey(wave) {
			return ids
		}
	}
	return nil
}

// MaxDepth resolves the deepest wave a tier may reach. Non-positive or missing
// limits mean the full order.
func (g *Gate) MaxDepth(tier string) int {
	var limit int
	for name, n := range g.Config.MaxDepth {
		if models.FoldKey(name) == models.FoldKey(tier) {
			limit = n
			break
		}
	}
	if limit <= 0 || limit > len(g.Config.Order) {
		return len(g.Config.Order)
	}
	return limit
}

// Evaluate applies the gate rule to the artifacts of one wave. Only configuration
// problems return an error.
func (g *Gate) Evaluate(wave, tier string, files []string) (models.GateResult, error) {
	res := models.GateResult{Wave: wave}
	if !g.Config.Enabled {
		res.Reason = ReasonDisabled
		return res, nil
	}

	idx, err := g.Index(wave)
	if err != nil {
		return res, err
	}

	loaded, skipped := g.Loader.LoadAll(files)
	res.SkippedArtifacts = skipped
	res.Stats = tally(loaded, len(skipped))
	res.MissingReviewers = missingReviewers(g.Reviewers(wave), loaded)

	rule := g.Config.Gate
	var reasons []string
	if res.Stats.Malformed > 0 {
		reasons = append(reasons, ReasonMalformed)
	}
	if len(loaded) == 0 {
		reasons = append(reasons, ReasonNoValid)
	}
	if rule.BlockOnCritical && res.Stats.Critical > 0 {
		reasons = append(reasons, ReasonCritical)
	}
	if rule.BlockOnMajor && res.Stats.Major > 0 {
		reasons = append(reasons, ReasonMajor)
	}
	if rule.BlockOnSkip && res.Stats.Skip > rule.SkipTolerance {
		reasons = append(reasons, ReasonSkipTolerance)
	}

	if len(reasons) > 0 {
		res.Blocking = true
		res.Reason = strings.Join(reasons, ",")
		return res, nil
	}

	depth := idx + 1
	if depth >= g.MaxDepth(tier) || idx+1 >= len(g.Config.Order) {
		res.Reason = ReasonMaxWaveReached
		return res, nil
	}

	res.Escalate = true
	res.Reason = ReasonEscalate
	res.NextWave = g.Config.Order[idx+1]
	return res, nil
}

// tally counts verdicts and gating severities. Findings of low-confidence reviews
// do not count.
func tally(loaded []artifact.Loaded, malformed int) models.GateStats {
	st := models.GateStats{Total: len(loaded), Malformed: malformed}
	for i := range loaded {
		r := &loaded[i].Review
		switch r.Verdict {
		case models.VerdictPass:
			st.Pass++
		case models.VerdictWarn:
			st.Warn++
		case models.VerdictFail:
			st.Fail++
		case models.VerdictSkip:
			st.Skip++
		}
		if r.Confidence < models.LowConfidenceThreshold {
			continue
		}
		st.Critical += r.SeverityCount(models.SeverityCritical)
		st.Major += r.SeverityCount(models.SeverityMajor)
	}
	return st
}

// missingReviewers lists the configured reviewers of a wave that produced no valid
// artifact. An artifact without a reviewer field is named by its file stem.
func missingReviewers(expected []string, loaded []artifact.Loaded) []string {
	if len(expected) == 0 {
		return nil
	}
	present := make(map[string]bool, len(loaded))
	for _, l := range loaded {
		id := l.Review.Reviewer
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(l.File), filepath.Ext(l.File))
		}
		present[models.FoldKey(id)] = true
	}
	var missing []string
	for _, id := range expected {
		if !present[models.FoldKey(id)] {
			missing = append(missing, id)
		}
	}
	return missing
}

// Files lists the artifacts of one wave under root. A missing wave directory has no artifacts.
func Files(root, wave string) ([]string, error) {
	files, err := artifact.Discover(filepath.Join(root, wave))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return files, err
}
