package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/linemk/marketplace/internal/app"
	"github.com/linemk/marketplace/internal/app/handlers"
	"github.com/linemk/marketplace/internal/config"
	"github.com/linemk/marketplace/internal/gateway"
	"github.com/linemk/marketplace/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/marketplace/internal/lib/logger"
	"github.com/linemk/marketplace/internal/lib/logger/handlers/urllog"
	"github.com/linemk/marketplace/internal/notify"
	"github.com/linemk/marketplace/internal/service"
	"github.com/linemk/marketplace/internal/storage"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	cartRepo := storage.NewCartRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	addressRepo := storage.NewAddressRepository(application.DB)

	// шина нотификаций: kafka при настроенных брокерах, иначе только лог
	var notifier notify.Notifier
	if brokers := notify.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(brokers, cfg.Kafka.Topic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
		log.Info("kafka notifier enabled", slog.String("topic", cfg.Kafka.Topic))
	} else {
		notifier = notify.NewLogNotifier(log)
		log.Info("kafka brokers not configured, events go to log only")
	}

	// платёжный шлюз выбирается конфигом один раз при старте
	var paymentGateway gateway.Gateway
	switch cfg.Payment.Gateway {
	case "mock":
		paymentGateway = gateway.NewMockGateway(cfg.Payment.RedirectBase)
	case "disabled":
		paymentGateway = gateway.NewDisabledGateway()
		log.Warn("payment gateway disabled, orders will stay pending")
	default:
		log.Error("unknown payment gateway kind", slog.String("gateway", cfg.Payment.Gateway))
		panic("unknown payment gateway kind: " + cfg.Payment.Gateway)
	}

	authService := service.NewAuthService(application.Logger, userRepo, cartRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	cartService := service.NewCartService(application.Logger, application.DB, cartRepo, productRepo)
	checkoutService := service.NewCheckoutService(application.Logger, application.DB, cartRepo, orderRepo, productRepo, addressRepo, notifier)
	paymentService := service.NewPaymentService(application.Logger, application.DB, orderRepo, paymentGateway, notifier, cfg.Payment.GatewayTimeout)
	orderService := service.NewOrderService(application.Logger, orderRepo)

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(application.Logger, authService))
	// вебхук платёжного шлюза, авторизация пользователя здесь не нужна
	router.Post("/api/webhooks/payment", handlers.PaymentWebhookHandler(application.Logger, paymentService))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)
		// корзина
		r.Get("/api/cart", handlers.GetCartHandler(application.Logger, cartService))
		r.Post("/api/cart/items", handlers.AddCartLineHandler(application.Logger, cartService))
		r.Put("/api/cart/items/{productID}", handlers.UpdateCartLineHandler(application.Logger, cartService))
		r.Delete("/api/cart/items/{productID}", handlers.RemoveCartLineHandler(application.Logger, cartService))
		// оформление корзины в заказы
		r.Post("/api/checkout", handlers.CheckoutHandler(application.Logger, checkoutService))
		// заказы и платежи
		r.Get("/api/orders", handlers.ListOrdersHandler(application.Logger, orderService))
		r.Get("/api/orders/{orderID}", handlers.GetOrderHandler(application.Logger, orderService))
		r.Post("/api/orders/{orderID}/payment", handlers.SubmitPaymentHandler(application.Logger, paymentService))
		r.Post("/api/orders/{orderID}/status", handlers.UpdateOrderStatusHandler(application.Logger, paymentService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}
