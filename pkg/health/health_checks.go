package health

import "time"

// Common health check functions

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) Check {
	return Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: time.Now(),
	}
}

// DatabaseCheck creates a health check for database connectivity
func DatabaseCheck(pingFunc func() error) CheckFunc {
	return func() Check {
		check := Check{
			Name: "database",
		}

		if err := pingFunc(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// SimulatorCheck creates a health check for the hydraulic simulator adapter.
func SimulatorCheck(pingFunc func() error) CheckFunc {
	return func() Check {
		check := Check{
			Name: "simulator",
		}

		if err := pingFunc(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Simulator reachable"
		}

		return check
	}
}

// RepositoryCheck creates a health check for the persistence repository.
func RepositoryCheck(pingFunc func() error) CheckFunc {
	return func() Check {
		check := Check{
			Name: "repository",
		}

		if err := pingFunc(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Repository reachable"
		}

		return check
	}
}

// BuildCoordinatorCheck reports degraded when a matrix build has been
// in_progress for longer than staleAfter, which usually means a worker
// crashed without releasing the build lock.
func BuildCoordinatorCheck(getBuildAge func() (inProgress bool, age time.Duration), staleAfter time.Duration) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "matrix_build",
			Details: make(map[string]any),
		}

		inProgress, age := getBuildAge()
		check.Details["in_progress"] = inProgress
		check.Details["age_seconds"] = age.Seconds()

		switch {
		case !inProgress:
			check.Status = StatusHealthy
			check.Message = "No build in progress"
		case age > staleAfter:
			check.Status = StatusDegraded
			check.Message = "Build has been running unusually long"
		default:
			check.Status = StatusHealthy
			check.Message = "Build in progress"
		}

		return check
	}
}

// DiskSpaceCheck creates a health check for disk space
func DiskSpaceCheck(getUsage func() (used, total uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "disk_space",
			Details: make(map[string]any),
		}

		used, total := getUsage()

		usagePercent := float64(used) / float64(total) * 100

		check.Details["used_bytes"] = used
		check.Details["total_bytes"] = total
		check.Details["usage_percent"] = usagePercent

		if usagePercent > 95 {
			check.Status = StatusUnhealthy
			check.Message = "Critical disk space"
		} else if usagePercent > 80 {
			check.Status = StatusDegraded
			check.Message = "Low disk space"
		} else {
			check.Status = StatusHealthy
			check.Message = "Sufficient disk space"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		// Consider degraded if allocated memory > 90% of system memory
		usagePercent := float64(alloc) / float64(sys) * 100

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
