package domain

import "time"

// Server is a user-owned machine running a Syntra agent.
type Server struct {
	ID         string
	Name       string
	AgentID    string
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

// Service is a deployable unit owned by a project.
type Service struct {
	ID             string
	ProjectID      string
	Name           string
	Slug           string
	GitRepoURL     string
	GitBranch      string
	DockerfilePath string
	ServerID       *string
	ContainerPort  int
	CreatedAt      time.Time
}

// EnvVar is a key/value pair attached to a project or service.
type EnvVar struct {
	Key   string
	Value string
}

// MergeEnvVars overlays service-level variables onto project-level ones;
// the service wins on key collision and ordering is stable by key origin.
func MergeEnvVars(project, service []EnvVar) []EnvVar {
	merged := make([]EnvVar, 0, len(project)+len(service))
	seen := make(map[string]int, len(project))
	for _, v := range project {
		seen[v.Key] = len(merged)
		merged = append(merged, v)
	}
	for _, v := range service {
		if idx, ok := seen[v.Key]; ok {
			merged[idx] = v
			continue
		}
		merged = append(merged, v)
	}
	return merged
}
