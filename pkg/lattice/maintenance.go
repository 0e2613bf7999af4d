package lattice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanonone/lattice/pkg/metrics"
	"github.com/sanonone/lattice/pkg/node"
)

// MaintenanceReport summarizes one maintenance tick.
type MaintenanceReport struct {
	Visited    int           `json:"visited"`
	Compressed []string      `json:"compressed"`
	Pruned     []string      `json:"pruned"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// MaintenanceTick runs one maintenance pass over the live nodes, in
// registration order:
//
//  1. with auto compression on, an uncompressed node holding at least
//     auto_compress_min_items items is compressed;
//  2. energy is recomputed from the idle time and persisted;
//  3. a node whose energy fell below prune_energy_threshold is pruned while
//     more than prune_min_nodes nodes are live. The count is re-read before
//     every prune.
//
// A failure on one node is logged and the pass continues with the next one.
func (m *Manager) MaintenanceTick() (MaintenanceReport, error) {
	start := time.Now()
	nodes, err := m.snapshot()
	if err != nil {
		return MaintenanceReport{}, err
	}

	report := MaintenanceReport{Compressed: []string{}, Pruned: []string{}}
	if err := m.releaseDrained(); err != nil {
		m.log.Warn("Failed to release pruned nodes", "error", err)
	}
	now := m.now()
	for _, tn := range nodes {
		report.Visited++
		if err := m.maintainNode(tn, now, &report); err != nil {
			report.Failed++
			metrics.MaintenanceErrors.Inc()
			m.log.Error("Maintenance failed for node", "tn", tn.ID(), "error", err)
		}
	}

	report.Duration = time.Since(start)
	metrics.MaintenanceDuration.Observe(report.Duration.Seconds())
	refreshGauges(m.Nodes())
	return report, nil
}

func (m *Manager) maintainNode(tn *node.Node, now time.Time, report *MaintenanceReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	id := tn.ID()
	if m.cfg.AutoCompress && !tn.IsCompressed() && tn.Len() >= m.cfg.AutoCompressMinItems {
		res, err := tn.Compress(m.cfg.CompressionThreshold)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		metrics.Compressions.WithLabelValues(string(res.Status)).Inc()
		if res.Status == node.Compressed {
			report.Compressed = append(report.Compressed, id)
			m.log.Info("Transmitter node compressed", "tn", id, "ratio", res.Ratio, "avg_similarity", res.AvgSimilarity)
		}
	}

	energy, err := tn.DecayEnergy(now, m.cfg.EnergyDecayPerHour, m.cfg.EnergyFloor)
	if err != nil {
		return fmt.Errorf("decay: %w", err)
	}

	if energy < m.cfg.PruneEnergyThreshold {
		pruned, err := m.prune(tn)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if pruned {
			report.Pruned = append(report.Pruned, id)
		}
	}
	return nil
}

// prune removes tn from the registry while the live count is above
// prune_min_nodes and marks it inactive on disk. The node stays open until
// the next tick, or Close, so operations that already hold it can finish.
func (m *Manager) prune(tn *node.Node) (bool, error) {
	id := tn.ID()

	m.mu.Lock()
	if m.closed || m.reg.len() <= m.cfg.PruneMinNodes {
		m.mu.Unlock()
		return false, nil
	}
	removed := m.reg.remove(id)
	if removed {
		m.draining = append(m.draining, drainingNode{tn: tn, tick: m.ticks})
	}
	metrics.Nodes.Set(float64(m.reg.len()))
	m.mu.Unlock()
	if !removed {
		return false, nil
	}

	metrics.NodesPruned.Inc()
	m.log.Info("Transmitter node pruned", "tn", id, "energy", tn.Energy(), "delete", m.cfg.DeletePruned)
	return true, tn.Deactivate()
}

// drainingNode is a pruned node and the tick that pruned it.
type drainingNode struct {
	tn   *node.Node
	tick uint64
}

// releaseDrained starts a new tick and closes the nodes pruned by earlier
// ticks, deleting their directories when delete_pruned is set.
func (m *Manager) releaseDrained() error {
	m.mu.Lock()
	m.ticks++
	var drained []drainingNode
	kept := m.draining[:0]
	for _, d := range m.draining {
		if d.tick < m.ticks {
			drained = append(drained, d)
		} else {
			kept = append(kept, d)
		}
	}
	m.draining = kept
	m.mu.Unlock()
	return m.release(drained)
}

func (m *Manager) release(nodes []drainingNode) error {
	var errs []error
	for _, d := range nodes {
		tn := d.tn
		if m.cfg.DeletePruned {
			errs = append(errs, tn.Destroy())
			continue
		}
		errs = append(errs, tn.Close())
	}
	return errors.Join(errs...)
}

// RunMaintenance calls MaintenanceTick every interval until ctx is done or
// the Manager is closed.
func (m *Manager) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			report, err := m.MaintenanceTick()
			if err != nil {
				m.log.Error("Maintenance tick failed", "error", err)
				continue
			}
			m.log.Debug("Maintenance tick",
				"visited", report.Visited,
				"compressed", len(report.Compressed),
				"pruned", len(report.Pruned),
				"failed", report.Failed,
				"duration", report.Duration)
		}
	}
}

// StartMaintenance runs RunMaintenance in the background until Close.
func (m *Manager) StartMaintenance(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.RunMaintenance(context.Background(), interval)
	}()
}

// Compress attempts compression of one node on demand with the given
// similarity gate.
func (m *Manager) Compress(id string, threshold float64) (node.CompressResult, error) {
	tn, err := m.Node(id)
	if err != nil {
		return node.CompressResult{}, err
	}
	res, err := tn.Compress(threshold)
	if err != nil {
		return res, err
	}
	metrics.Compressions.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}
