package postgres

import (
	"context"
	"errors"

	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type deviceRecordsRepo struct{ pool *pgxpool.Pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `id, user_email, brand, model, os, device_age,
       battery_cycle_count, battery_health, fast_charging, charges_overnight,
       storage_capacity, ram_capacity, storage_usage, ram_usage,
       previous_repairs, last_repair_date, authorized_service, warranty_status,
       overheating, drop_history, water_damage, sensor_issues, battery_bulging, screen_cracked, buttons_not_working,
       screen_time, charge_frequency, charge_time, environment, region_temp, updated_software, rooted,
       primary_use, major_concern, ml_prediction, created_at`

func recordFields(rec *models.DeviceRecord) []any {
	return []any{
		&rec.ID, &rec.UserEmail, &rec.Brand, &rec.Model, &rec.OS, &rec.DeviceAge,
		&rec.BatteryCycleCount, &rec.BatteryHealth, &rec.FastCharging, &rec.ChargesOvernight,
		&rec.StorageCapacity, &rec.RAMCapacity, &rec.StorageUsage, &rec.RAMUsage,
		&rec.PreviousRepairs, &rec.LastRepairDate, &rec.AuthorizedService, &rec.WarrantyStatus,
		&rec.Overheating, &rec.DropHistory, &rec.WaterDamage, &rec.SensorIssues, &rec.BatteryBulging, &rec.ScreenCracked, &rec.ButtonsNotWorking,
		&rec.ScreenTime, &rec.ChargeFrequency, &rec.ChargeTime, &rec.Environment, &rec.RegionTemp, &rec.UpdatedSoftware, &rec.Rooted,
		&rec.PrimaryUse, &rec.MajorConcern, &rec.MLPrediction, &rec.CreatedAt,
	}
}

func scanRecord(row pgx.Row) (models.DeviceRecord, error) {
	var rec models.DeviceRecord
	err := row.Scan(recordFields(&rec)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeviceRecord{}, repo.ErrNotFound
	}
	return rec, err
}

func insertRecord(ctx context.Context, q querier, rec models.DeviceRecord) (models.DeviceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PreviousRepairs == nil {
		rec.PreviousRepairs = models.List{}
	}
	if rec.PrimaryUse == nil {
		rec.PrimaryUse = models.List{}
	}
	// every column but created_at, which defaults to now()
	return scanRecord(q.QueryRow(ctx, `
INSERT INTO device_records (
  id, user_email, brand, model, os, device_age,
  battery_cycle_count, battery_health, fast_charging, charges_overnight,
  storage_capacity, ram_capacity, storage_usage, ram_usage,
  previous_repairs, last_repair_date, authorized_service, warranty_status,
  overheating, drop_history, water_damage, sensor_issues, battery_bulging, screen_cracked, buttons_not_working,
  screen_time, charge_frequency, charge_time, environment, region_temp, updated_software, rooted,
  primary_use, major_concern, ml_prediction
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
          $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)
RETURNING `+recordColumns,
		rec.ID, rec.UserEmail, rec.Brand, rec.Model, rec.OS, rec.DeviceAge,
		rec.BatteryCycleCount, rec.BatteryHealth, rec.FastCharging, rec.ChargesOvernight,
		rec.StorageCapacity, rec.RAMCapacity, rec.StorageUsage, rec.RAMUsage,
		rec.PreviousRepairs, rec.LastRepairDate, rec.AuthorizedService, rec.WarrantyStatus,
		rec.Overheating, rec.DropHistory, rec.WaterDamage, rec.SensorIssues, rec.BatteryBulging, rec.ScreenCracked, rec.ButtonsNotWorking,
		rec.ScreenTime, rec.ChargeFrequency, rec.ChargeTime, rec.Environment, rec.RegionTemp, rec.UpdatedSoftware, rec.Rooted,
		rec.PrimaryUse, rec.MajorConcern, rec.MLPrediction,
	))
}

func (r *deviceRecordsRepo) Create(ctx context.Context, rec models.DeviceRecord) (models.DeviceRecord, error) {
	return insertRecord(ctx, r.pool, rec)
}

func (r *deviceRecordsRepo) GetByID(ctx context.Context, id string) (models.DeviceRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.DeviceRecord{}, repo.ErrNotFound
	}
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM device_records WHERE id=$1`, id))
}

func (r *deviceRecordsRepo) ListByEmail(ctx context.Context, email string) ([]models.DeviceRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM device_records`
	args := []any{}
	if email != "" {
		q += ` WHERE user_email=$1`
		args = append(args, email)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DeviceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *deviceRecordsRepo) CreateLinked(ctx context.Context, txID string, rec models.DeviceRecord) (models.DeviceRecord, error) {
	var created models.DeviceRecord
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = insertRecord(ctx, tx, rec)
		if err != nil {
			return err
		}
		// the row lock taken here serialises racing materializations; the
		// loser re-reads linked_record_id after the winner commits and matches nothing
		tag, err := tx.Exec(ctx,
			`UPDATE transactions
			    SET linked_record_id = $2, updated_at = now()
			  WHERE id = $1 AND linked_record_id IS NULL`,
			txID, created.ID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id=$1)`, txID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return repo.ErrNotFound
			}
			return repo.ErrAlreadyLinked
		}
		return nil
	})
	if err != nil {
		return models.DeviceRecord{}, err
	}
	return created, nil
}
