// Package cli реализует инструмент командной строки mailqueue.
//
// # Обзор
//
// CLI работает напрямую с БД задач и брокером, теми же компонентами,
// что и воркер: ставит письма в очередь, показывает задачи и проверяет
// соединение с RabbitMQ.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: mailqueue job show ID --json | jq .
//
// ## Commands
//
//   - enqueue --kind K --to ADDR [--data k=v ...]
//   - job show ID
//   - health
//
// Каждая команда создаётся фабричной функцией (NewEnqueueCmd и т.д.),
// принимающей фабрику зависимостей и outputFn. Зависимости создаются
// лениво, после разбора флагов, и освобождаются после команды.
package cli
