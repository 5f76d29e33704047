package categories

import (
	"fmt"

	"github.com/gosimple/slug"
)

const fallbackSlug = "category"

// maxSlugAttempts ограничивает перебор суффиксов
const maxSlugAttempts = 1000

// MakeSlug строит URL-безопасный slug из названия (кириллица транслитерируется).
// При коллизии добавляется суффикс -2, -3 и т.д.
func MakeSlug(name string, exists func(string) (bool, error)) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = fallbackSlug
	}

	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("проверка slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}

	return "", fmt.Errorf("не удалось подобрать свободный slug для %q", name)
}
