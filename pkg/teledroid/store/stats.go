package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordStats appends a telemetry snapshot for a device.
func (s *Store) RecordStats(st *DeviceStats) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO device_stats
			(device_id, battery_level, battery_status, storage_total, storage_used,
			 network_type, network_speed, memory_total, memory_used, cpu_usage,
			 created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.DeviceID, nullableInt(st.BatteryLevel), st.BatteryStatus,
		nullableFloat(st.StorageTotal), nullableFloat(st.StorageUsed),
		st.NetworkType, nullableFloat(st.NetworkSpeed),
		nullableFloat(st.MemoryTotal), nullableFloat(st.MemoryUsed),
		nullableFloat(st.CPUUsage), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record stats for %q: %w", st.DeviceID, err)
	}

	st.ID, _ = res.LastInsertId()
	st.CreatedAt = now
	return nil
}

// LatestStats returns the most recent snapshot for a device, or
// ErrNotFound if the device never reported.
func (s *Store) LatestStats(deviceID string) (*DeviceStats, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, battery_level, battery_status, storage_total,
		       storage_used, network_type, network_speed, memory_total,
		       memory_used, cpu_usage, created_at
		FROM device_stats
		WHERE device_id = ?
		ORDER BY id DESC LIMIT 1`, deviceID)

	var (
		st        DeviceStats
		battery   sql.NullInt64
		stTotal   sql.NullFloat64
		stUsed    sql.NullFloat64
		netSpeed  sql.NullFloat64
		memTotal  sql.NullFloat64
		memUsed   sql.NullFloat64
		cpu       sql.NullFloat64
		createdAt string
	)
	err := row.Scan(&st.ID, &st.DeviceID, &battery, &st.BatteryStatus,
		&stTotal, &stUsed, &st.NetworkType, &netSpeed,
		&memTotal, &memUsed, &cpu, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device stats: %w", err)
	}

	if battery.Valid {
		v := int(battery.Int64)
		st.BatteryLevel = &v
	}
	st.StorageTotal = floatPtr(stTotal)
	st.StorageUsed = floatPtr(stUsed)
	st.NetworkSpeed = floatPtr(netSpeed)
	st.MemoryTotal = floatPtr(memTotal)
	st.MemoryUsed = floatPtr(memUsed)
	st.CPUUsage = floatPtr(cpu)
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &st, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
