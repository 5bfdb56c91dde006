package storage

import (
	"context"
	"fmt"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
)

// ConfigRepository reads and writes the dynamic pipeline configuration:
// steps, document classes, models, OCR configuration, and settings. It is
// the write path behind the admin endpoints and the read path the cache
// layer falls back to on a miss.
type ConfigRepository struct {
	*Store
}

func NewConfigRepository(s *Store) *ConfigRepository { return &ConfigRepository{Store: s} }

// EnabledSteps returns every enabled DynamicStep ordered ascending, the
// shape the executor needs to build its three execution bands.
func (r *ConfigRepository) EnabledSteps(ctx context.Context) ([]domain.DynamicStep, error) {
	var steps []domain.DynamicStep
	const q = `SELECT * FROM dynamic_steps WHERE enabled = true ORDER BY step_order ASC`
	if err := r.DB.SelectContext(ctx, &steps, q); err != nil {
		return nil, fmt.Errorf("storage: listing enabled steps: %w", err)
	}
	return steps, nil
}

// AllSteps returns every step regardless of enabled state, for admin CRUD.
func (r *ConfigRepository) AllSteps(ctx context.Context) ([]domain.DynamicStep, error) {
	var steps []domain.DynamicStep
	const q = `SELECT * FROM dynamic_steps ORDER BY step_order ASC`
	if err := r.DB.SelectContext(ctx, &steps, q); err != nil {
		return nil, err
	}
	return steps, nil
}

// UpsertStep validates the single-branching-step invariant before writing:
// rejected at config-write time, not re-checked per run.
func (r *ConfigRepository) UpsertStep(ctx context.Context, step *domain.DynamicStep) error {
	if step.IsBranchingStep {
		var count int
		const check = `SELECT count(*) FROM dynamic_steps WHERE is_branching_step = true AND enabled = true AND id <> $1`
		if err := r.DB.GetContext(ctx, &count, check, step.ID); err != nil {
			return fmt.Errorf("storage: checking branching step invariant: %w", err)
		}
		if count > 0 {
			return core.NewDomainError(core.KindValidation, "at most one enabled step may be a branching step", nil)
		}
	}

	if step.ID == 0 {
		const ins = `INSERT INTO dynamic_steps
			(name, step_order, enabled, prompt_template, model_id, temperature, max_tokens,
			 retry_on_failure, max_retries, input_from_previous_step, output_format,
			 document_class_id, is_branching_step, branching_field, post_branching,
			 required_context_variables, stop_on_values, stop_reason, stop_message)
			VALUES (:name,:step_order,:enabled,:prompt_template,:model_id,:temperature,:max_tokens,
			 :retry_on_failure,:max_retries,:input_from_previous_step,:output_format,
			 :document_class_id,:is_branching_step,:branching_field,:post_branching,
			 :required_context_variables,:stop_on_values,:stop_reason,:stop_message) RETURNING id`
		rows, err := r.DB.NamedQueryContext(ctx, ins, step)
		if err != nil {
			return fmt.Errorf("storage: inserting step: %w", err)
		}
		defer rows.Close()
		if rows.Next() {
			return rows.Scan(&step.ID)
		}
		return nil
	}

	const upd = `UPDATE dynamic_steps SET
		name=:name, step_order=:step_order, enabled=:enabled, prompt_template=:prompt_template,
		model_id=:model_id, temperature=:temperature, max_tokens=:max_tokens,
		retry_on_failure=:retry_on_failure, max_retries=:max_retries,
		input_from_previous_step=:input_from_previous_step, output_format=:output_format,
		document_class_id=:document_class_id, is_branching_step=:is_branching_step,
		branching_field=:branching_field, post_branching=:post_branching,
		required_context_variables=:required_context_variables, stop_on_values=:stop_on_values,
		stop_reason=:stop_reason, stop_message=:stop_message
		WHERE id=:id`
	_, err := r.DB.NamedExecContext(ctx, upd, step)
	return err
}

// DocumentClasses returns every document class, used by the executor's
// branching match.
func (r *ConfigRepository) DocumentClasses(ctx context.Context) ([]domain.DocumentClass, error) {
	var classes []domain.DocumentClass
	const q = `SELECT * FROM document_classes ORDER BY id ASC`
	if err := r.DB.SelectContext(ctx, &classes, q); err != nil {
		return nil, err
	}
	return classes, nil
}

// DeleteDocumentClass refuses to delete a system class.
func (r *ConfigRepository) DeleteDocumentClass(ctx context.Context, id int64) error {
	const q = `DELETE FROM document_classes WHERE id = $1 AND is_system_class = false`
	res, err := r.DB.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.NewDomainError(core.KindValidation, "system document classes cannot be deleted", nil)
	}
	return nil
}

// AvailableModels returns every model the executor may dispatch to.
func (r *ConfigRepository) AvailableModels(ctx context.Context) ([]domain.AvailableModel, error) {
	var models []domain.AvailableModel
	const q = `SELECT * FROM available_models WHERE enabled = true ORDER BY id ASC`
	if err := r.DB.SelectContext(ctx, &models, q); err != nil {
		return nil, err
	}
	return models, nil
}

// ModelByID fetches a single model row.
func (r *ConfigRepository) ModelByID(ctx context.Context, id int64) (*domain.AvailableModel, error) {
	var m domain.AvailableModel
	const q = `SELECT * FROM available_models WHERE id = $1`
	if err := r.DB.GetContext(ctx, &m, q, id); err != nil {
		return nil, core.WrapDomainError(core.KindNotFound, "model not found", err)
	}
	return &m, nil
}

// ActiveOCRConfiguration returns the process-wide OCR settings singleton.
func (r *ConfigRepository) ActiveOCRConfiguration(ctx context.Context) (*domain.OCRConfiguration, error) {
	var cfg domain.OCRConfiguration
	const q = `SELECT * FROM ocr_configuration ORDER BY id DESC LIMIT 1`
	if err := r.DB.GetContext(ctx, &cfg, q); err != nil {
		return nil, core.WrapDomainError(core.KindNotFound, "no active OCR configuration", err)
	}
	return &cfg, nil
}

// Setting fetches one system setting, decrypting its value when flagged.
func (r *ConfigRepository) Setting(ctx context.Context, key string) (string, error) {
	var s domain.SystemSetting
	const q = `SELECT * FROM system_settings WHERE key = $1`
	if err := r.DB.GetContext(ctx, &s, q, key); err != nil {
		return "", core.WrapDomainError(core.KindNotFound, "setting not found", err)
	}
	if !s.IsEncrypted {
		return s.Value, nil
	}
	return r.Encryptor.DecryptString([]byte(s.Value))
}

// PutSetting upserts a system setting, encrypting the value when requested.
func (r *ConfigRepository) PutSetting(ctx context.Context, key, value string, encrypted bool) error {
	stored := value
	if encrypted {
		enc, err := r.Encryptor.EncryptString(value)
		if err != nil {
			return err
		}
		stored = string(enc)
	}
	const q = `INSERT INTO system_settings (key, value, is_encrypted) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, is_encrypted = excluded.is_encrypted`
	_, err := r.DB.ExecContext(ctx, q, key, stored, encrypted)
	return err
}
