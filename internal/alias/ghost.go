package alias

import "strings"

// Ghosts generates the surface variants a canonical name is commonly listed
// under: the full name, the first-initial form and the bare final token
// ("jannik sinner" -> "j. sinner", "sinner"). The graph builder turns these
// into ghost nodes so alias chains can bridge listings that share no literal
// token.
func Ghosts(name string) []string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil
	}

	parts := strings.Fields(name)
	out := []string{name}
	if len(parts) < 2 {
		return out
	}

	last := parts[len(parts)-1]
	initial := string([]rune(parts[0])[0]) + ". " + strings.Join(parts[1:], " ")
	out = append(out, initial)
	if len(last) >= 4 && last != name {
		out = append(out, last)
	}
	return out
}
