package main

import (
	contextsvc "github.com/agpstudio/agp/internal/contextsvc"
	plansvc "github.com/agpstudio/agp/internal/plan/service"
	projectsvc "github.com/agpstudio/agp/internal/project/service"
	tasksvc "github.com/agpstudio/agp/internal/task/service"
)

// Services groups the domain services built by provideServices.
type Services struct {
	Projects *projectsvc.Service
	Tasks    *tasksvc.Service
	Plans    *plansvc.Service
	Contexts *contextsvc.Service
}
