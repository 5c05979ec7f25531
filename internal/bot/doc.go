// Package bot — “склейка” вокруг bancho, matchmaker и lobby, реализующая
// мультиплеерного бота osu!. Бот:
//   - слушает личные сообщения и выполняет команды (!help, !q, !unq, !r,
//     !lobby, !pve, !auto, !quali, !stats для админов);
//   - заводит запись игроку без истории (рейтинг по умолчанию);
//   - создаёт дуэль, когда матчмейкер собрал пару;
//   - при выключении объявляет его во всех лобби и закрывает их.
//
// Жизненный цикл:
//   - Прочитать конфиг LoadConfig("conf/packbot.jsonc") и ApplyEnv.
//   - Создать бота через New(cfg, logger).
//   - Запустить Start(ctx) и остановить Stop().
//
// Пример:
//
//	cfg, err := bot.LoadConfig("conf/packbot.jsonc")
//	if err != nil { log.Fatal(err) }
//	cfg.ApplyEnv(os.LookupEnv)
//
//	b, err := bot.New(cfg, slog.Default())
//	if err != nil { log.Fatal(err) }
//	if err := b.Start(ctx); err != nil { log.Fatal(err) }
//	defer b.Stop()
//
// Конфигурация:
//   - JSON с комментариями (см. Config); секреты можно передать через
//     окружение или .env. Маппулы дуэлей лежат отдельно в YAML.
package bot
