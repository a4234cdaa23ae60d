package main

import (
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/contextsvc"
	"github.com/agpstudio/agp/internal/events/bus"
	plansvc "github.com/agpstudio/agp/internal/plan/service"
	projectsvc "github.com/agpstudio/agp/internal/project/service"
	"github.com/agpstudio/agp/internal/settings"
	"github.com/agpstudio/agp/internal/storage"
	"github.com/agpstudio/agp/internal/supervisor"
	tasksvc "github.com/agpstudio/agp/internal/task/service"
)

// provideServices builds the domain services on top of the repository.
// The projects root comes from the settings store, read once at boot.
func provideServices(
	log *logger.Logger,
	repo *storage.Repository,
	eventBus bus.EventBus,
	settingsSvc *settings.Service,
	sup *supervisor.Supervisor,
) (*Services, error) {
	cfg, err := settingsSvc.GetAll(false)
	if err != nil {
		return nil, err
	}
	rootDir := cfg.Projects.RootDir

	projectSvc := projectsvc.NewService(repo, eventBus, log, rootDir)
	projectSvc.SetSequencer(sup)

	taskSvc := tasksvc.NewService(repo, eventBus, log)
	planSvc := plansvc.NewService(repo, eventBus, log)

	contextSvc := contextsvc.NewService(repo, eventBus, log, rootDir)
	taskSvc.SetContextRegenerator(contextSvc)

	return &Services{
		Projects: projectSvc,
		Tasks:    taskSvc,
		Plans:    planSvc,
		Contexts: contextSvc,
	}, nil
}
