package acl

import "strings"

// matchRules checks a requested action against an ordered candidate rule
// list. The first matching rule wins; list order is preserved from
// configuration and matters.
//
// Rule syntax is component[:view[:task]] with "*" as a positional wildcard
// and "component:**" meaning any view and any task.
func matchRules(component, view, task, firewall string, rules []string) bool {
	component = strings.TrimPrefix(component, "com_")

	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}

		// A bare "*" is the super-admin bypass. It deliberately never
		// matches the home component so a wildcard grant cannot imply
		// access to the bootstrap route.
		if rule == "*" {
			if component == "home" || component == firewall+"home" || component == firewall+"_home" {
				continue
			}
			return true
		}

		if rule == component {
			return true // component-wide, tasks included
		}

		if rule == component+":**" {
			return true // component-wide, any view, any task
		}

		if task == "" && rule == component+":*" {
			return true // component-wide without tasks
		}

		if view == "" && task == "" && rule == component+":" {
			return true // bare component request
		}

		if task == "" && rule == component+":"+view {
			return true // specific view, no task requested
		}

		if task != "" && rule == component+":"+view+":"+task {
			return true // exact triple
		}

		if task != "" && rule == component+":*:"+task {
			return true // any view with this task
		}

		if task != "" && rule == component+":*:*" {
			return true // any view and any task, task required
		}

		if rule == component+":"+view+":*" {
			return true // specific view, any task
		}
	}

	return false
}
