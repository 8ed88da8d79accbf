package diagnostics

import (
	"fmt"
	"strconv"
	"strings"
)

// messageTemplates maps compiler message ids to user-facing templates.
// Positional markers (%1, %2, ...) are substituted from the JSON argument
// array carried on the output line. Ids not in this table are advisory
// noise and are dropped without logging.
var messageTemplates = map[string]string{
	"qx.tool.compiler.application.noBootPart":             "Cannot find a boot part for the application",
	"qx.tool.compiler.application.missingRequiredLibrary": "Cannot find required library %1",
	"qx.tool.compiler.application.missingScriptResource":  "Cannot find script resource %1",
	"qx.tool.compiler.application.partRecursive":          "Part %1 has a recursive dependency on itself",
	"qx.tool.compiler.class.blockedMangle":                "The global %1 blocks private mangling of %2",
	"qx.tool.compiler.library.cannotFindPath":             "Cannot find path %2 required by library %1",
	"qx.tool.compiler.library.emptyManifest":              "Manifest of library %1 is empty",
	"qx.tool.compiler.webfonts.error":                     "Error resolving webfont %1: %2",
	"qx.tool.compiler.environment.defaultIgnored":         "Default value of environment key %1 is ignored",
}

// KnownMessageID reports whether id has a registered template.
func KnownMessageID(id string) bool {
	_, ok := messageTemplates[id]
	return ok
}

// renderTemplate substitutes %N markers with the N-th argument (1-based).
// Markers without a matching argument are left in place.
func renderTemplate(template string, args []any) string {
	out := template
	for i, arg := range args {
		out = strings.ReplaceAll(out, "%"+strconv.Itoa(i+1), fmt.Sprint(arg))
	}
	return out
}
