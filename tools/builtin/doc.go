// Package builtin 提供内置工具的 class 映射：current_time、crewai_generator、
// crewai_runtime、execution_status。映射由 Classes 构造后交给 tools.NewFactory。
package builtin
