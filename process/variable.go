package process

import "strings"

// ExpandVariables substitutes ${name} tokens in s using the Environment's
// working directory plus any extra values supplied by extra (extra takes
// precedence). Unknown tokens are left untouched.
func ExpandVariables(s string, env Environment, extra map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	vars := map[string]string{
		"workspaceFolder": env.WorkingDirectory,
	}
	for k, v := range extra {
		vars[k] = v
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				if v, ok := vars[name]; ok {
					b.WriteString(v)
					i += 2 + end + 1
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
