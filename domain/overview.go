package domain

import "time"

// StatusSplit counts tasks per progress bucket.
type StatusSplit struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// Overview is the dashboard summary of a tenant.
type Overview struct {
	Projects  int `json:"projects"`
	Tasks     int `json:"tasks"`
	Completed int `json:"completed"`
	// TasksByMonth counts tasks by the UTC month they were created in,
	// January first, regardless of year.
	TasksByMonth [12]int     `json:"tasksByMonth"`
	StatusSplit  StatusSplit `json:"statusSplit"`
}

// Summarize computes the overview of a tenant's projects and tasks. Completed
// counts completed tasks; any task status other than completed or in progress
// falls into the pending bucket.
func Summarize(projects, tasks []Item) Overview {
	o := Overview{Projects: len(projects), Tasks: len(tasks)}
	for _, t := range tasks {
		if !t.CreatedAt.IsZero() {
			o.TasksByMonth[t.CreatedAt.In(time.UTC).Month()-1]++
		}
		switch t.Status {
		case StatusCompleted:
			o.Completed++
			o.StatusSplit.Completed++
		case StatusInProgress:
			o.StatusSplit.InProgress++
		default:
			o.StatusSplit.Pending++
		}
	}
	return o
}
