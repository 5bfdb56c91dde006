package httpapi

import (
	"context"
	"time"

	"github.com/medlingua/pipeline/cache"
	"github.com/medlingua/pipeline/domain"
)

const cacheKeyAll = "all"

// enabledSteps returns the enabled DynamicStep snapshot, preferring the
// cache and falling back to storage on miss. The cache is advisory:
// every reader falls back on a miss or a disabled cache.
func (s *Server) enabledSteps(ctx context.Context) ([]domain.DynamicStep, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(cache.NamespacePipelineSteps, cacheKeyAll); ok {
			if steps, ok := v.([]domain.DynamicStep); ok {
				return steps, nil
			}
		}
	}
	steps, err := s.Config.EnabledSteps(ctx)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(cache.NamespacePipelineSteps, cacheKeyAll, steps, 5*time.Minute)
	}
	return steps, nil
}

// documentClasses returns every document class, cache-first.
func (s *Server) documentClasses(ctx context.Context) ([]domain.DocumentClass, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(cache.NamespaceDocumentClasses, cacheKeyAll); ok {
			if classes, ok := v.([]domain.DocumentClass); ok {
				return classes, nil
			}
		}
	}
	classes, err := s.Config.DocumentClasses(ctx)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(cache.NamespaceDocumentClasses, cacheKeyAll, classes, 5*time.Minute)
	}
	return classes, nil
}

// activeOCRConfiguration returns the OCR strategy singleton, cache-first.
func (s *Server) activeOCRConfiguration(ctx context.Context) (*domain.OCRConfiguration, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(cache.NamespaceOCRConfig, cacheKeyAll); ok {
			if cfg, ok := v.(*domain.OCRConfiguration); ok {
				return cfg, nil
			}
		}
	}
	cfg, err := s.Config.ActiveOCRConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(cache.NamespaceOCRConfig, cacheKeyAll, cfg, 5*time.Minute)
	}
	return cfg, nil
}

// availableModels returns every enabled model, cache-first.
func (s *Server) availableModels(ctx context.Context) ([]domain.AvailableModel, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(cache.NamespaceAvailableModels, cacheKeyAll); ok {
			if models, ok := v.([]domain.AvailableModel); ok {
				return models, nil
			}
		}
	}
	models, err := s.Config.AvailableModels(ctx)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(cache.NamespaceAvailableModels, cacheKeyAll, models, 5*time.Minute)
	}
	return models, nil
}
