package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: " Intro to Go ", want: "intro-to-go"},
		{in: "Web   Design & UX!", want: "web-design-ux"},
		{in: "طراحی وب", want: "طراحی-وب"},
		{in: "آموزش گو ۱۰۱", want: "آموزش-گو-۱۰۱"},
		{in: "---", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}
