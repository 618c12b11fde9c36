package serene

// SelectArch chooses the architecture a built artifact's filename should
// carry: the configured architecture if the recipe declares support for it,
// otherwise pacman's "any" architecture for arch-independent packages.
func SelectArch(configured string, recipeArches []string) string {
	for _, a := range recipeArches {
		if a == configured {
			return configured
		}
	}
	return "any"
}
