package lottery

import (
	"fmt"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/types"
)

var testDepartments = [...]string{"Production", "Cutting", "Common", "PE", "Maintenance", "Admin", "QA", "HR", ""}

// GenerateEmployees はN人分のテスト社員を決定論的に生成する。
func GenerateEmployees(n int) []types.Employee {
	if n <= 0 {
		return []types.Employee{}
	}

	employees := make([]types.Employee, n)
	for i := 0; i < n; i++ {
		employees[i] = GenerateEmployee(i)
	}
	return employees
}

// GenerateEmployee は1人分のテスト社員を決定論的に生成する。
func GenerateEmployee(index int) types.Employee {
	if index < 0 {
		index = 0
	}

	return types.Employee{
		ID:         fmt.Sprintf("%07d", index+1),
		Name:       fmt.Sprintf("Employee %03d", index+1),
		Department: testDepartments[index%len(testDepartments)],
		IsActive:   true,
		CreatedAt:  time.Unix(0, 0).Add(time.Duration(index) * time.Second),
	}
}

func defaultTestQuotas() map[string]float64 {
	return map[string]float64{
		"Production":  10,
		"Cutting":     5,
		"Common":      20,
		"PE":          10,
		"Maintenance": 20,
		"Admin":       10,
		"QA":          15,
		"HR":          10,
	}
}

func stubRandomInt(fn func(max int) (int, error)) func() {
	original := drawRandomInt
	drawRandomInt = fn
	return func() {
		drawRandomInt = original
	}
}

func stubRandomFloat(fn func() (float64, error)) func() {
	original := drawRandomFloat
	drawRandomFloat = fn
	return func() {
		drawRandomFloat = original
	}
}
