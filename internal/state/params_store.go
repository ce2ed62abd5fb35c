// ./internal/state/params_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/utils"
)

// SaveProtocolParameters saves a new version of protocol parameters.
// Only one version per config name is active at a time; activating a new
// version deactivates the previous one in the same transaction.
func SaveProtocolParameters(params types.ProtocolParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to persist invalid parameters: %w", err)
	}

	tiersJSON, err := json.Marshal(params.DiscountTiers)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal discount tiers: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE protocol_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO protocol_parameters (
            version, config_name, is_active, activated_at, created_at,
            base_rate, slope1, slope2, kink_utilization,
            max_deposit, min_leverage, max_leverage, liquidation_threshold,
            platform_fee_rate, keeper_reward_share,
            treasury_bps, insurance_bps, staker_bps, discount_tiers
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8, $9,
            $10, $11, $12, $13,
            $14, $15,
            $16, $17, $18, $19
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.BaseRate.String(), params.Slope1.String(), params.Slope2.String(), params.KinkUtilization.String(),
		params.MaxDeposit.String(), params.MinLeverage, params.MaxLeverage, params.LiquidationThreshold.String(),
		params.PlatformFeeRate.String(), params.KeeperRewardShare.String(),
		params.FeeSplit.TreasuryBps, params.FeeSplit.InsuranceBps, params.FeeSplit.StakerBps, tiersJSON,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert protocol parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved protocol parameters")
	return paramsID, nil
}

// LoadActiveProtocolParameters loads the currently active protocol parameters.
func LoadActiveProtocolParameters(configName string) (*types.ProtocolParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            base_rate, slope1, slope2, kink_utilization,
            max_deposit, min_leverage, max_leverage, liquidation_threshold,
            platform_fee_rate, keeper_reward_share,
            treasury_bps, insurance_bps, staker_bps, discount_tiers
        FROM protocol_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var (
		baseRate, slope1, slope2, kink       string
		maxDeposit, liqThreshold             string
		platformFeeRate, keeperRewardShare   string
		minLeverage, maxLeverage             int64
		treasuryBps, insuranceBps, stakerBps int64
		tiersJSON                            []byte
	)
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&baseRate, &slope1, &slope2, &kink,
		&maxDeposit, &minLeverage, &maxLeverage, &liqThreshold,
		&platformFeeRate, &keeperRewardShare,
		&treasuryBps, &insuranceBps, &stakerBps, &tiersJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active protocol parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active protocol parameters for config '%s': %w", configName, err)
	}

	p := &types.ProtocolParameters{
		MinLeverage: minLeverage,
		MaxLeverage: maxLeverage,
		FeeSplit: types.FeeSplit{
			TreasuryBps:  treasuryBps,
			InsuranceBps: insuranceBps,
			StakerBps:    stakerBps,
		},
	}
	if p.BaseRate, err = utils.ScanDec(baseRate); err != nil {
		return nil, fmt.Errorf("bad base_rate: %w", err)
	}
	if p.Slope1, err = utils.ScanDec(slope1); err != nil {
		return nil, fmt.Errorf("bad slope1: %w", err)
	}
	if p.Slope2, err = utils.ScanDec(slope2); err != nil {
		return nil, fmt.Errorf("bad slope2: %w", err)
	}
	if p.KinkUtilization, err = utils.ScanDec(kink); err != nil {
		return nil, fmt.Errorf("bad kink_utilization: %w", err)
	}
	if p.MaxDeposit, err = utils.ScanDec(maxDeposit); err != nil {
		return nil, fmt.Errorf("bad max_deposit: %w", err)
	}
	if p.LiquidationThreshold, err = utils.ScanDec(liqThreshold); err != nil {
		return nil, fmt.Errorf("bad liquidation_threshold: %w", err)
	}
	if p.PlatformFeeRate, err = utils.ScanDec(platformFeeRate); err != nil {
		return nil, fmt.Errorf("bad platform_fee_rate: %w", err)
	}
	if p.KeeperRewardShare, err = utils.ScanDec(keeperRewardShare); err != nil {
		return nil, fmt.Errorf("bad keeper_reward_share: %w", err)
	}
	if err = json.Unmarshal(tiersJSON, &p.DiscountTiers); err != nil {
		return nil, fmt.Errorf("bad discount_tiers: %w", err)
	}

	if err = p.Validate(); err != nil {
		return nil, fmt.Errorf("stored parameters for '%s' fail validation: %w", configName, err)
	}

	log.Info().Str("config", configName).Msg("Loaded active protocol parameters")
	return p, nil
}
